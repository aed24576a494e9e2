package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	path := writeConfigFile(t, `server:
  host: 127.0.0.1
  port: 9090
index:
  chunk_size: 800
  chunk_overlap: 100
  roots:
    - path: /data/docs
      tenant: acme
vectorstore:
  provider: memory
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 800, cfg.Index.ChunkSize)
	assert.Equal(t, 100, cfg.Index.ChunkOverlap)
	require.Len(t, cfg.Index.Roots, 1)
	assert.Equal(t, "acme", cfg.Index.Roots[0].Tenant)
	assert.Equal(t, "memory", cfg.VectorStore.Provider)

	// Defaults still fill unset fields.
	assert.Equal(t, 50, cfg.Index.BatchSize)
	assert.Equal(t, "documents", cfg.VectorStore.Collection)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9090\n", 0600)

	t.Setenv("CORPUSD_SERVER_PORT", "7777")
	t.Setenv("CORPUSD_SEARCH_MAX_RESULTS", "25")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Search.MaxResults)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8642, cfg.Server.Port)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9090\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_InvalidConfigRejected(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: loud\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging level")
}

func TestLoadWithFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [unclosed", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
}
