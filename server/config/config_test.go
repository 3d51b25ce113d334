package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Jobs.MaxWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.JobTimeout)
	assert.Equal(t, time.Hour, cfg.Jobs.ResultTTL)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9000\"\njobs:\n  timeout: 2m\n"), 0o644))
	t.Setenv("AIRPART_JOBS_MAX_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.JobTimeout)
	assert.Equal(t, 8, cfg.Jobs.MaxWorkers)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("AIRPART_JOBS_MAX_WORKERS", "0")
	_, err = Load("")
	assert.Error(t, err)
}
