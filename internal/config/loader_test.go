package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "micrologger")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
  shutdown_timeout: 3s
database:
  driver: sqlite
  path: /var/lib/micrologger/lab.db
session:
  idle_timeout: 45m
products:
  api_url: https://erp.example.com/products
app:
  timezone: Europe/Athens
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "/var/lib/micrologger/lab.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Minute, cfg.Session.IdleTimeout.Duration())
	assert.Equal(t, "https://erp.example.com/products", cfg.Products.APIURL)
	assert.Equal(t, "Europe/Athens", cfg.App.Timezone)

	// Defaults fill the rest.
	assert.Equal(t, "MICAPPSESSID", cfg.Session.CookieName)
	assert.Equal(t, 5, cfg.Auth.MaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration.Duration())
	assert.Equal(t, 6*time.Second, cfg.Products.Timeout.Duration())
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("MICROLOGGER_SERVER_HTTP_PORT", "7070")
	t.Setenv("MICROLOGGER_DATABASE_DRIVER", "postgres")
	t.Setenv("MICROLOGGER_DATABASE_DSN", "postgres://lab:pw@db/lab")
	t.Setenv("MICROLOGGER_SESSION_IDLE_TIMEOUT", "10m")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://lab:pw@db/lab", cfg.Database.DSN.Value())
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleTimeout.Duration())
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "micrologger.db", cfg.Database.Path)
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	other := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(other, []byte("server:\n  http_port: 1\n"), 0600))

	_, err := LoadWithFile(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsPrefixSibling(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))

	_, err := LoadWithFile(filepath.Join(sibling, "config.yaml"))
	require.Error(t, err)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "database:\n  driver: mysql\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("MICROLOGGER_SERVER_HTTP_PORT"))
	assert.Equal(t, "products.api_url", envKey("MICROLOGGER_PRODUCTS_API_URL"))
	assert.Equal(t, "debug", envKey("MICROLOGGER_DEBUG"))
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "micrologger"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
