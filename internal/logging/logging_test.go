package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFilePath(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "", Config{}.ResolveFilePath(now))
	assert.Equal(t, "/tmp/x.log", Config{FilePath: "/tmp/x.log", Dir: "logs"}.ResolveFilePath(now))
	assert.Equal(t, filepath.Join("logs", "warn_2026-03-04.log"), Config{Dir: "logs", Level: "warning"}.ResolveFilePath(now))
	assert.Equal(t, filepath.Join("logs", "info_2026-03-04.log"), Config{Dir: "logs", Level: "bogus"}.ResolveFilePath(now))
}

func TestInitWritesFile(t *testing.T) {
	dir := t.TempDir()
	cleanup, err := Init(Config{Level: "debug", Dir: filepath.Join(dir, "nested")})
	require.NoError(t, err)

	L.Info("hello")
	cleanup()

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, "nested", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"service":"chatsnap"`)
}
