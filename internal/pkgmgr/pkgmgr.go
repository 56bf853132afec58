// Package pkgmgr picks the JavaScript package manager a project uses, based
// on the lockfile it carries, and builds the link commands for it.
package pkgmgr

import (
	"os"
	"path/filepath"
)

// Manager is a JavaScript package manager.
type Manager string

const (
	NPM  Manager = "npm"
	Yarn Manager = "yarn"
	PNPM Manager = "pnpm"
	Bun  Manager = "bun"
)

// lockfiles in detection priority order.
var lockfiles = []struct {
	name string
	mgr  Manager
}{
	{"pnpm-lock.yaml", PNPM},
	{"yarn.lock", Yarn},
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"package-lock.json", NPM},
}

// Detect walks up from dir looking for a lockfile and returns the matching
// manager; npm when none is found.
func Detect(dir string) Manager {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return NPM
	}
	for {
		for _, lf := range lockfiles {
			if _, err := os.Stat(filepath.Join(abs, lf.name)); err == nil {
				return lf.mgr
			}
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return NPM
		}
		abs = parent
	}
}

// LinkSource is the command run inside the generated package to register it
// for linking.
func (m Manager) LinkSource() string {
	switch m {
	case PNPM:
		return "pnpm link --global"
	default:
		return string(m) + " link"
	}
}

// LinkInto is the command run inside a consuming project to link pkg.
func (m Manager) LinkInto(pkg string) string {
	switch m {
	case PNPM:
		return "pnpm link --global " + pkg
	default:
		return string(m) + " link " + pkg
	}
}

// Unlink is the command run inside a consuming project to drop the link.
func (m Manager) Unlink(pkg string) string {
	switch m {
	case PNPM:
		return "pnpm unlink --global " + pkg
	case NPM:
		return "npm unlink --no-save " + pkg
	default:
		return string(m) + " unlink " + pkg
	}
}
