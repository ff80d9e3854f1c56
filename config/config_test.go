package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.LimitsConfig.MaxAttachments)
	assert.Equal(t, int64(20<<20), cfg.LimitsConfig.MaxAttachmentBytes)
	assert.Equal(t, 15*time.Second, cfg.LimitsConfig.SendTimeout)
	assert.Equal(t, "sqlite", cfg.PersistenceConfig.Type)
	assert.Equal(t, "memory", cfg.StorageConfig.Type)
}

func TestDirectoryFlagsAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.toml"), []byte(`
log_level = "debug"
[persistence]
type = "postgres"
dsn = "postgres://from-file"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.toml"), []byte(`
[[oidc]]
name = "google"
provider_url = "https://accounts.google.com"

[fanout]
reorder_window = "500ms"
`), 0o600))
	t.Setenv("STRIDECHAT_REDIS_ADDR", "localhost:6379")

	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--persistence-dsn", "postgres://from-flag"}))
	cfg, err := ReadConfiguration(dir, flagSet)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.PersistenceConfig.Type)
	assert.Equal(t, "postgres://from-flag", cfg.PersistenceConfig.DSN)
	assert.Equal(t, 500*time.Millisecond, cfg.FanoutConfig.ReorderWindow)
	assert.Equal(t, "localhost:6379", cfg.RedisConfig.Addr)
	require.Len(t, cfg.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.OIDCConfigs[0].Name)
}
