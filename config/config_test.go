package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Leinnan/assets-reflect/config"
	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	assert.NilError(t, err)
	assert.DeepEqual(t, cfg, config.Default())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
asset_root: data
workers: 8
strict: false
log:
  level: debug
  format: json
  outputs: [stdout]
`)
	cfg, err := config.Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.AssetRoot, "data")
	assert.Equal(t, cfg.Workers, 8)
	assert.Equal(t, cfg.Strict, false)
	assert.Equal(t, cfg.Log.Level, "debug")
	assert.Equal(t, cfg.Log.Format, "json")
	assert.DeepEqual(t, cfg.Log.Outputs, []string{"stdout"})
	// Untouched keys keep their defaults.
	assert.Equal(t, cfg.Log.Rotation.MaxSizeMB, 50)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "workers: 8\n")
	t.Setenv("ASSETS_WORKERS", "2")
	t.Setenv("ASSETS_LOG_LEVEL", "warn")
	cfg, err := config.Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Workers, 2)
	assert.Equal(t, cfg.Log.Level, "warn")

	t.Setenv("ASSETS_CONFIG", path)
	t.Setenv("ASSETS_WORKERS", "")
	cfg, err = config.Load("")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Workers, 8)
}

func TestInvalid(t *testing.T) {
	_, err := config.Load(writeConfig(t, "log:\n  level: loud\n"))
	assert.Error(t, err, `invalid log.level: "loud"`)

	_, err = config.Load(writeConfig(t, "workers: 0\n"))
	assert.ErrorContains(t, err, "invalid workers: 0")

	_, err = config.Load(writeConfig(t, "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "invalid log.format")

	_, err = config.Load(writeConfig(t, "workers: [\n"))
	assert.ErrorContains(t, err, "read config")
}
