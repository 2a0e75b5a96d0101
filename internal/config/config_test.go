package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/txn"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "contacts.db", cfg.DB)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, "contactsd", cfg.Admin)
	assert.Equal(t, txn.DefaultRetry(), cfg.RetryPolicy())
	assert.Equal(t, 50, cfg.BusyTimeoutMS)
	assert.Empty(t, cfg.MetricsFile)
	assert.Len(t, cfg.StoreOptions(), 2)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(`
db: /data/contacts.db
busy_timeout_ms: 250
retry:
  attempts: 3
  initial_ms: 5
log_level: debug
`), 0600))
	t.Setenv("CONTACTSD_RETRY_ATTEMPTS", "9")
	t.Setenv("CONTACTSD_MAX_OPEN_CONNS", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/contacts.db", cfg.DB)
	assert.Equal(t, 8, cfg.MaxOpenConns)
	assert.Equal(t, 9, cfg.Retry.Attempts, "env overrides file")

	p := cfg.RetryPolicy()
	assert.Equal(t, 5*time.Millisecond, p.Initial)
	assert.Equal(t, 320*time.Millisecond, p.Max)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_open_conns: 1\nlog_level: loud\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_open_conns")
	assert.Contains(t, err.Error(), "log_level")
}

func TestDefault_IgnoresEnvironment(t *testing.T) {
	t.Setenv("CONTACTSD_DB", "/tmp/other.db")

	cfg := Default()
	assert.Equal(t, "contacts.db", cfg.DB)
	assert.NoError(t, cfg.Validate())
}
