package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logs_dir":"out","receive_timeout_ms":500}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.LogsDir)
	assert.Equal(t, 500*time.Millisecond, cfg.ReceiveTimeout())
	assert.Equal(t, 30*time.Second, cfg.ResponseTimeout())
	assert.Equal(t, 4096, cfg.ReadBuffer)
	assert.Equal(t, "recent", cfg.RecentDir)
}

func TestLoadNegativeResponseTimeoutDisables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"response_timeout_ms":-1}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.ResponseTimeout())
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
