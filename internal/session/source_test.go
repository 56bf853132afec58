package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/watch"
)

func cfgWithSpec(path string, port int) *config.Config {
	return &config.Config{Services: config.Services{Backend: config.Backend{
		Path: "/srv/api", Port: port, APISpec: config.APISpec{Path: path, Watch: []string{"**/*.py"}},
	}}}
}

func TestResolveSource(t *testing.T) {
	cases := []struct {
		path string
		mode pipeline.Mode
		want string
	}{
		{"runtime:/openapi.json", pipeline.ModePoll, "http://localhost:8000/openapi.json"},
		{"runtime:openapi.json", pipeline.ModePoll, "http://localhost:8000/openapi.json"},
		{"/docs/openapi.json", pipeline.ModePoll, "http://localhost:8000/docs/openapi.json"},
		{"https://api.example.com/openapi.json", pipeline.ModePoll, "https://api.example.com/openapi.json"},
		{"openapi.json", pipeline.ModeWatch, filepath.Join("/srv/api", "openapi.json")},
		{"spec/openapi.json", pipeline.ModeWatch, filepath.Join("/srv/api", "spec", "openapi.json")},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			src, mode, _, err := ResolveSource(cfgWithSpec(tc.path, 8000))
			require.NoError(t, err)
			assert.Equal(t, tc.mode, mode)
			assert.Equal(t, tc.want, src.Describe())
		})
	}
}

func TestResolveSource_WatchOptions(t *testing.T) {
	_, _, wopts, err := ResolveSource(cfgWithSpec("openapi.json", 0))
	require.NoError(t, err)
	assert.Equal(t, "/srv/api", wopts.Root)
	assert.Equal(t, []string{filepath.Join("/srv/api", "openapi.json")}, wopts.Files)
	assert.Equal(t, []string{"**/*.py"}, wopts.Globs)
	assert.Equal(t, watch.DefaultIgnore, wopts.Ignore)

	cfg := cfgWithSpec("openapi.json", 0)
	cfg.Sync.Ignore = []string{"**/venv/**"}
	_, _, wopts, err = ResolveSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"**/venv/**"}, wopts.Ignore)
}

func TestResolveSource_RuntimeNeedsPort(t *testing.T) {
	_, _, _, err := ResolveSource(cfgWithSpec("runtime:/openapi.json", 0))
	assert.ErrorContains(t, err, "services.backend.port")

	_, _, _, err = ResolveSource(cfgWithSpec("  ", 8000))
	assert.Error(t, err)
}
