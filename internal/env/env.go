package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments from the OS environment, a set of
// session-wide variables and a per-service overlay.
type Env struct {
	Var Var // session-wide variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
}

// WithBase replaces the cached OS base; used by tests to get a hermetic env.
func (e *Env) WithBase(base Var) *Env {
	e.env = make(Var, len(base))
	for k, v := range base {
		e.env[k] = v
	}
	return e
}

// Set sets a session-wide variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply session-wide e.Var overrides
// then apply the service overlay
// ${VAR} references in values are expanded once against the composed map.
// The result is sorted by key.
func (e *Env) Merge(overlay map[string]string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(overlay))
	for k, v := range e.env {
		m[k] = v
	}
	for _, layer := range []map[string]string{e.Var, overlay} {
		for k, v := range layer {
			if k == "" || strings.ContainsRune(k, '=') {
				continue
			}
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := m[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}
