package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
chat_feed_url: ws://lab.test/ws/chat
call_feed_url: ws://lab.test/ws/calls
backend_url: http://lab.test/api
user_id: 7
user_name: ana
reconnect_delay: 5s
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "ws://lab.test/ws/chat", cfg.ChatFeedURL)
	require.Equal(t, int64(7), cfg.UserID)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
chat_feed_url: ws://lab.test/ws/chat
call_feed_url: ws://lab.test/ws/calls
backend_url: http://lab.test/api
user_id: 7
`)
	t.Setenv("BIOMA_USER_ID", "42")
	t.Setenv("BIOMA_CACHE_FILE", "/tmp/bioma.db")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(42), cfg.UserID)
	require.Equal(t, "/tmp/bioma.db", cfg.CacheFile)
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	path := writeConfig(t, `
chat_feed_url: ws://lab.test/ws/chat
`)
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig("/does/not/exist.yaml")
	require.Error(t, err)
}
