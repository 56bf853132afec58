package contract

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the kind of difference between two snapshots.
type Kind string

const (
	KindAdded    Kind = "added"
	KindRemoved  Kind = "removed"
	KindModified Kind = "modified"
)

// Severity grades how a change affects a generated client.
type Severity string

const (
	SeverityMajor Severity = "major"
	SeverityMinor Severity = "minor"
	SeverityPatch Severity = "patch"
)

// Change is a single difference between two snapshots.
type Change struct {
	Kind        Kind     `json:"type"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

func (c Change) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", c.Severity, c.Kind, c.Path, c.Description)
}

// severities holds the rule table. Paths and schemas currently share it.
var severities = map[Kind]Severity{
	KindAdded:    SeverityMinor,
	KindRemoved:  SeverityMajor,
	KindModified: SeverityMinor,
}

// Diff compares the paths and schemas tables of two snapshots. The result is
// sorted by path.
func Diff(prev, next Snapshot) []Change {
	var out []Change
	out = append(out, diffTable("paths", "endpoint", toAny(prev.Paths), toAny(next.Paths))...)
	out = append(out, diffTable("schemas", "schema", prev.Schemas, next.Schemas)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func diffTable(prefix, noun string, prev, next map[string]any) []Change {
	var out []Change
	for k, nv := range next {
		pv, ok := prev[k]
		switch {
		case !ok:
			out = append(out, change(KindAdded, prefix, noun, k))
		case canonical(pv) != canonical(nv):
			out = append(out, change(KindModified, prefix, noun, k))
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, change(KindRemoved, prefix, noun, k))
		}
	}
	return out
}

func change(kind Kind, prefix, noun, key string) Change {
	return Change{
		Kind:        kind,
		Path:        prefix + "." + key,
		Description: describe(kind, noun, key),
		Severity:    severities[kind],
	}
}

func describe(kind Kind, noun, key string) string {
	if noun == "endpoint" {
		if i := strings.LastIndexByte(key, '.'); i > 0 {
			key = strings.ToUpper(key[i+1:]) + " " + key[:i]
		}
	}
	return fmt.Sprintf("%s %s %s", noun, key, kind)
}

func toAny(m map[string]Operation) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Strategy decides which change sets justify regeneration.
type Strategy string

const (
	StrategySmart        Strategy = "smart"
	StrategyAggressive   Strategy = "aggressive"
	StrategyConservative Strategy = "conservative"
)

// ParseStrategy maps a configuration value to a Strategy. Empty selects smart.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategySmart:
		return StrategySmart, nil
	case StrategyAggressive:
		return StrategyAggressive, nil
	case StrategyConservative:
		return StrategyConservative, nil
	default:
		return "", fmt.Errorf("unknown sync strategy %q (want smart, aggressive or conservative)", s)
	}
}

// Accepts reports whether changes warrant regeneration under st. It is only
// consulted once the canonical hashes already differ.
func (st Strategy) Accepts(changes []Change) bool {
	switch st {
	case StrategyAggressive:
		return true
	case StrategyConservative:
		return hasSeverity(changes, SeverityMajor)
	default:
		return hasSeverity(changes, SeverityMajor, SeverityMinor)
	}
}

// Significant reports whether changes hold at least one major or minor record.
func Significant(changes []Change) bool {
	return StrategySmart.Accepts(changes)
}

func hasSeverity(changes []Change, want ...Severity) bool {
	for _, c := range changes {
		for _, w := range want {
			if c.Severity == w {
				return true
			}
		}
	}
	return false
}
