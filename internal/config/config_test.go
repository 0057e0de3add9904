package config

import (
	"os"
	"path/filepath"
	"testing"

	"vibelink/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.InitForTests()
	os.Exit(m.Run())
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir()) // isolate from any real user config

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, []string{"/"}, cfg.AllowedPaths)
	assert.Empty(t, cfg.TunnelName)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())

	content := "port: 9100\ntunnelName: my-tunnel\nallowedPaths:\n  - /srv/code\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "my-tunnel", cfg.TunnelName)
	assert.Equal(t, []string{"/srv/code"}, cfg.AllowedPaths)
}

func TestProjectOverridesUserConfig(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)

	userDir := filepath.Join(home, userConfigDir)
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, configFileName), []byte("port: 9000\ntunnelName: from-user\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectFileName), []byte("port: 9001\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	// untouched keys keep the user-level value
	assert.Equal(t, "from-user", cfg.TunnelName)
}

func TestEnvOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VIBELINK_PORT", "9200")
	t.Setenv("VIBELINK_CLOUDFLARED", "/opt/bin/cloudflared")

	require.NoError(t, os.WriteFile(filepath.Join(dir, projectFileName), []byte("port: 9100\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "/opt/bin/cloudflared", cfg.CloudflaredPath)
}

func TestInvalidPortEnvIgnored(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VIBELINK_PORT", "not-a-port")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, projectFileName), []byte("port: [nope"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
