package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VK_TOKEN", "VK_GROUP_ID", "VKBOX_MODE", "VKBOX_STATE_BACKEND",
		"REDIS_ADDR", "DATABASE_URL", "VKBOX_OPS_SECRET",
		"VKBOX_CALLBACK_ADDR", "VKBOX_CALLBACK_SECRET", "VKBOX_CALLBACK_CONFIRMATION",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_FileOnly(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
token: file-token
group_id: 123
mode: callback
state_backend: redis
redis_addr: redis:6379
wait: 10
callback:
  addr: ":9090"
  secret: cb-secret
  confirmation: conf
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, int64(123), cfg.GroupID)
	assert.Equal(t, "callback", cfg.Mode)
	assert.Equal(t, "redis", cfg.StateBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 10, cfg.Wait)
	assert.Equal(t, ":9090", cfg.Callback.Addr)
	assert.Equal(t, "cb-secret", cfg.Callback.Secret)
	assert.Equal(t, "conf", cfg.Callback.Confirmation)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("VK_TOKEN", "env-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "polling", cfg.Mode)
	assert.Equal(t, "memory", cfg.StateBackend)
	assert.Equal(t, 25, cfg.Wait)
	assert.Equal(t, ":8080", cfg.Callback.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "token: file-token\nmode: polling\n")
	t.Setenv("VK_TOKEN", "env-token")
	t.Setenv("VKBOX_MODE", "callback")
	t.Setenv("VK_GROUP_ID", "777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "callback", cfg.Mode)
	assert.Equal(t, int64(777), cfg.GroupID)
}

func TestLoad_MissingTokenFails(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "token: x\ntokne: typo\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsBadEnum(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "token: x\nmode: pushpull\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsWaitOutOfRange(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "token: x\nwait: 500\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
