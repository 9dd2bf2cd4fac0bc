// Package config handles picoserd configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for picoserd.
type Config struct {
	// Serial settings for the device connection.
	Serial SerialConfig `yaml:"serial" mapstructure:"serial"`

	// Protocol timing and framing settings.
	Protocol ProtocolConfig `yaml:"protocol" mapstructure:"protocol"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// SerialConfig contains serial transport settings.
type SerialConfig struct {
	// Device is the serial device path (e.g. /dev/ttyACM0, COM3).
	Device string `yaml:"device" mapstructure:"device"`

	// BaudRate is the serial baud rate.
	BaudRate int `yaml:"baud_rate" mapstructure:"baud_rate"`

	// OpenTimeout is how long to wait for the device to appear on connect.
	OpenTimeout time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

// ProtocolConfig contains raw-REPL protocol timing settings.
//
// The delays and short timeouts here are tuned against real firmware
// response latency. They are deliberately configurable: other firmware or
// baud-rate combinations may need different values, and the defaults only
// reflect what behaves well on a Pico at 115200 baud.
type ProtocolConfig struct {
	// PollInterval is the transport read timeout used while polling for
	// bytes inside blocking protocol reads and the bridge output loop.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// EntryTimeout is the max idle time while waiting for raw-REPL entry
	// banners. Zero means wait forever.
	EntryTimeout time.Duration `yaml:"entry_timeout" mapstructure:"entry_timeout"`

	// ChunkSize is the max number of code bytes written per burst when
	// submitting an execution buffer.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	// InterChunkDelay is the pause between code chunk writes, giving the
	// device time to drain its UART buffer.
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay" mapstructure:"inter_chunk_delay"`

	// BannerDelay is how long the completion probe waits after switching
	// to the friendly prompt before discarding the banner.
	BannerDelay time.Duration `yaml:"banner_delay" mapstructure:"banner_delay"`

	// CompletionTimeout is the bounded read timeout for completion
	// replies. A line with no completions produces no output at all, so
	// this read must never block indefinitely.
	CompletionTimeout time.Duration `yaml:"completion_timeout" mapstructure:"completion_timeout"`

	// CopyChunkSize is the per-chunk payload size for file transfers.
	CopyChunkSize int `yaml:"copy_chunk_size" mapstructure:"copy_chunk_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:      "",
			BaudRate:    115200,
			OpenTimeout: 5 * time.Second,
		},
		Protocol: ProtocolConfig{
			PollInterval:      10 * time.Millisecond,
			EntryTimeout:      10 * time.Second,
			ChunkSize:         256,
			InterChunkDelay:   10 * time.Millisecond,
			BannerDelay:       5 * time.Millisecond,
			CompletionTimeout: 50 * time.Millisecond,
			CopyChunkSize:     256,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Serial.BaudRate < 1 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}

	if c.Protocol.PollInterval < time.Millisecond {
		return fmt.Errorf("protocol.poll_interval must be at least 1ms")
	}

	if c.Protocol.ChunkSize < 1 {
		return fmt.Errorf("protocol.chunk_size must be at least 1")
	}

	if c.Protocol.CopyChunkSize < 1 {
		return fmt.Errorf("protocol.copy_chunk_size must be at least 1")
	}

	if c.Protocol.CompletionTimeout < time.Millisecond {
		return fmt.Errorf("protocol.completion_timeout must be at least 1ms")
	}

	return nil
}
