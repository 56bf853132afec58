package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriters_WithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := FileConfig{Dir: dir}
	outW, errW, err := cfg.Writers("backend")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)

	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)

	for _, name := range []string{"backend.stdout.log", "backend.stderr.log"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestWriters_Disabled(t *testing.T) {
	outW, errW, err := FileConfig{}.Writers("x")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)
}

func TestWriters_RotationDefaults(t *testing.T) {
	outW, errW, err := FileConfig{Dir: t.TempDir(), MaxSizeMB: 5}.Writers("svc")
	require.NoError(t, err)
	defer closeIf(outW)
	defer closeIf(errW)

	l, ok := outW.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, 5, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
}

func TestNew_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "warn", Format: FormatJSON})
	log.Info("hidden")
	log.Warn("shown", slog.String("service", "backend"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "backend", rec["service"])
	_, hasTime := rec["time"]
	assert.False(t, hasTime)
}

func TestNew_ColorText(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Config{Level: "debug", Color: true}).Error("boom")
	assert.Contains(t, buf.String(), "\033[31mERROR\033[0m")
	assert.Contains(t, buf.String(), "boom")
}

func TestColorText_DerivedLoggerKeepsColor(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Config{Level: "info", Color: true}).With("service", "backend").WithGroup("run").Warn("slow", "ms", 12)
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m")
	assert.Contains(t, out, "service=backend")
	assert.Contains(t, out, "run.ms=12")
	assert.NotContains(t, out, "time=")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
