package pkgmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	cases := map[string]Manager{
		"pnpm-lock.yaml":    PNPM,
		"yarn.lock":         Yarn,
		"bun.lockb":         Bun,
		"package-lock.json": NPM,
	}
	for lock, want := range cases {
		t.Run(lock, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, lock), nil, 0o600))
			assert.Equal(t, want, Detect(dir))
		})
	}
}

func TestDetect_WalksUpToWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pnpm-lock.yaml"), nil, 0o600))
	nested := filepath.Join(root, "packages", "client")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	assert.Equal(t, PNPM, Detect(nested))
}

func TestDetect_PriorityWhenSeveralLockfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yarn.lock"), nil, 0o600))
	assert.Equal(t, Yarn, Detect(dir))
}

func TestCommands(t *testing.T) {
	assert.Equal(t, "npm link", NPM.LinkSource())
	assert.Equal(t, "yarn link @app/api", Yarn.LinkInto("@app/api"))
	assert.Equal(t, "pnpm link --global", PNPM.LinkSource())
	assert.Equal(t, "pnpm link --global @app/api", PNPM.LinkInto("@app/api"))
	assert.Equal(t, "npm unlink --no-save @app/api", NPM.Unlink("@app/api"))
	assert.Equal(t, "bun unlink @app/api", Bun.Unlink("@app/api"))
}
