package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud rate", func(c *Config) { c.Serial.BaudRate = 0 }},
		{"tiny poll interval", func(c *Config) { c.Protocol.PollInterval = time.Microsecond }},
		{"zero chunk size", func(c *Config) { c.Protocol.ChunkSize = 0 }},
		{"zero copy chunk size", func(c *Config) { c.Protocol.CopyChunkSize = 0 }},
		{"zero completion timeout", func(c *Config) { c.Protocol.CompletionTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
serial:
  device: /dev/ttyACM1
  baud_rate: 9600
protocol:
  completion_timeout: 80ms
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader()
	loader.SetConfigFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyACM1", cfg.Serial.Device)
	require.Equal(t, 9600, cfg.Serial.BaudRate)
	require.Equal(t, 80*time.Millisecond, cfg.Protocol.CompletionTimeout)
	require.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep defaults.
	require.Equal(t, 256, cfg.Protocol.ChunkSize)
	require.Equal(t, path, loader.ConfigFileUsed())
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Serial.BaudRate, cfg.Serial.BaudRate)
}

func TestLoaderExplicitMissingFileErrors(t *testing.T) {
	loader := NewLoader()
	loader.SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
}
