// ABOUTME: Tests for TOML config loading.
// ABOUTME: Covers env expansion, defaults, duration parsing, and validation errors.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herald.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
[whatsapp]
store_path = "/var/lib/herald/session.db"

[reply]
greeting = "Welcome!"

[session]
base_delay = "2s"
max_attempts = 3

[server]
http_addr = "0.0.0.0:9000"

[auth]
secret = "hunter2"

[storage]
replied_path = "/var/lib/herald/replied.json"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/herald/session.db", cfg.WhatsApp.StorePath)
	assert.Equal(t, "Welcome!", cfg.Reply.Greeting)
	assert.Equal(t, 2*time.Second, cfg.Session.BaseDelay)
	assert.Equal(t, 3, cfg.Session.MaxAttempts)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "hunter2", cfg.Auth.Secret)
	assert.Equal(t, "/var/lib/herald/replied.json", cfg.Storage.RepliedPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultGreeting, cfg.Reply.Greeting)
	assert.Equal(t, 5*time.Second, cfg.Session.BaseDelay)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, "127.0.0.1:8420", cfg.Server.HTTPAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Auth.Secret)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("HERALD_TEST_SECRET", "from-env")

	path := writeConfig(t, `
[auth]
secret = "${HERALD_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
[session]
base_delay = "soon"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "base_delay")
}

func TestLoad_NegativeAttempts(t *testing.T) {
	path := writeConfig(t, `
[session]
max_attempts = -1
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "max_attempts")
}

func TestLoad_BadListenAddr(t *testing.T) {
	path := writeConfig(t, `
[server]
http_addr = "not-an-addr"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "http_addr")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
