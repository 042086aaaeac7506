package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "node", cfg.Runtime.Command)
	require.Equal(t, 1000, cfg.Runtime.LogCapacity)
	require.Equal(t, 5*time.Second, cfg.Runtime.CrashRestartDelay)
	require.Equal(t, filepath.Join("data", "bots"), cfg.BotsDir)
	require.Equal(t, filepath.Join("data", "bothost.db"), cfg.Registry.Path)
	require.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bothost.yaml")
	yml := `
listen: ":9000"
data_dir: /srv/bothost
registry:
  driver: file
runtime:
  command: bun
  crash_restart_delay: 250ms
  args: ["--smol"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("BOTHOST_LISTEN", ":9100")
	t.Setenv("BOTHOST_STOP_GRACE_PERIOD", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Listen)
	require.Equal(t, "bun", cfg.Runtime.Command)
	require.Equal(t, []string{"--smol"}, cfg.Runtime.Args)
	require.Equal(t, 250*time.Millisecond, cfg.Runtime.CrashRestartDelay)
	require.Equal(t, 2*time.Second, cfg.Runtime.StopGracePeriod)
	require.Equal(t, filepath.Join("/srv/bothost", "bots.json"), cfg.Registry.Path)
	require.Equal(t, filepath.Join("/srv/bothost", "logs"), cfg.LogsDir)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("BOTHOST_REGISTRY_DRIVER", "postgres")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("BOTHOST_MAX_UPLOAD_MB", "lots")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_UnsupportedExt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bothost.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
