package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CTAG07/Haikoo/pkg/haiku"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig(), cfg)

			_, err = os.Stat(path)
			require.NoError(t, err, "defaults are written on first load")

			again, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, again)
		})
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "config.json", `{"generator_config": {"model": "frost", "max_retries": 2}}`},
		{"yaml", "config.yml", "generator_config:\n  model: frost\n  max_retries: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, "frost", cfg.Generator.Model)
			assert.Equal(t, 2, cfg.Generator.MaxRetries)
			assert.Equal(t, "./data/models", cfg.Generator.ModelsDir, "unset fields keep their defaults")
			assert.Equal(t, DefaultServerConfig(), cfg.Server)
			assert.Equal(t, DefaultDescriberConfig(), cfg.Describer)
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"generator_config": {"max_retries": -1}}`), 0o644))
	_, err = LoadConfig(invalid)
	assert.ErrorIs(t, err, haiku.ErrValidation)
}

func TestDescriberKeyFromEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Describer.Key = "from-file"

	t.Setenv(envDescriberKey, "")
	assert.Equal(t, "from-file", cfg.DescriberKey())

	t.Setenv(envDescriberKey, "from-env")
	assert.Equal(t, "from-env", cfg.DescriberKey())
}

func TestConfigManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	cm.SetLogger(discardLogger())

	cfg := cm.Get()
	cfg.Server.TrustedProxies = []string{"192.168.0.0/16", "127.0.0.1", "not-an-ip"}
	cfg.Generator.Model = "classic"
	// Get returns copies, so nothing changes until Update.
	assert.Equal(t, haiku.DefaultPreset, cm.Get().Generator.Model)
	assert.False(t, cm.IsTrusted("127.0.0.1"))

	require.NoError(t, cm.Update(cfg))
	assert.Equal(t, "classic", cm.Get().Generator.Model)
	assert.True(t, cm.IsTrusted("127.0.0.1"))
	assert.True(t, cm.IsTrusted("192.168.4.20"))
	assert.False(t, cm.IsTrusted("10.0.0.1"))
	assert.False(t, cm.IsTrusted("garbage"))

	persisted, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "classic", persisted.Generator.Model)

	cfg.Server.MaxUploadBytes = 0
	assert.ErrorIs(t, cm.Update(cfg), haiku.ErrValidation)
	assert.Equal(t, DefaultServerConfig().MaxUploadBytes, cm.Get().Server.MaxUploadBytes)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARN").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}

func TestNewLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "haikoo.log")
	var stdout bytesWriter

	logger, closer, err := newLogger(&stdout, "info", logFile)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "model", "frost")
	require.NoError(t, closer.Close())

	assert.Contains(t, string(stdout), "shown")
	assert.NotContains(t, string(stdout), "hidden")
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"model":"frost"`)
}

type bytesWriter []byte

func (b *bytesWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
