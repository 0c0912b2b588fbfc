// Package config loads the daemon configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/proto"
)

// Config is the root daemon configuration.
type Config struct {
	// Name is the local node identifier announced to peers.
	Name string `mapstructure:"name"`

	// TCPOnly disables the UDP data path for this node entirely.
	TCPOnly bool `mapstructure:"tcp_only"`
	// Indirect forbids peers from sharing this node's address: traffic to
	// nodes behind it must flow through it.
	Indirect bool `mapstructure:"indirect"`

	Log     LogConfig     `mapstructure:"log"`
	Control ControlConfig `mapstructure:"control"`
	Net     NetConfig     `mapstructure:"net"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ControlConfig tunes the meta-protocol engine.
type ControlConfig struct {
	// PingInterval is how long a channel may stay silent before a
	// liveness probe is sent.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PingTimeout is how long an armed probe may go unanswered.
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	// MaxOutputBuffer caps queued fallback data per connection, in bytes.
	MaxOutputBuffer int `mapstructure:"max_output_buffer"`
	// RateLimit caps egress per connection in bytes per second. Zero
	// disables the limit.
	RateLimit int64 `mapstructure:"rate_limit"`
}

// NetConfig holds listener and dial-out settings.
type NetConfig struct {
	// Listen addresses for inbound meta-channels, "host:port".
	Listen []string `mapstructure:"listen"`
	// ConnectTo are peers this node keeps an outgoing channel to.
	ConnectTo []ConnectConfig `mapstructure:"connect_to"`

	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
	DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
}

// ConnectConfig names one peer to dial on startup and keep dialing.
type ConnectConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

// AdminConfig locates the administrative control socket.
type AdminConfig struct {
	// Socket is a unix socket path, or a named pipe on Windows.
	Socket string `mapstructure:"socket"`
}

// Default returns a Config populated with the daemon's defaults. Name has no
// default: it must be configured.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/tincd.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Control: ControlConfig{
			PingInterval:    60 * time.Second,
			PingTimeout:     5 * time.Second,
			MaxOutputBuffer: 10 * 1024 * 1024,
		},
		Net: NetConfig{
			Listen:               []string{":655"},
			DialBackoffInitialMS: 1000,
			DialBackoffMaxMS:     900000,
			DialBackoffJitterMS:  100,
		},
		Admin: AdminConfig{Socket: DefaultAdminSocket()},
	}
}

// Options folds the configured capability flags into the wire bit-field,
// with the current protocol version in the top byte.
func (c *Config) Options() graph.Options {
	var o graph.Options
	if c.TCPOnly {
		o |= graph.OptTCPOnly
	}
	if c.Indirect {
		o |= graph.OptIndirect
	}
	return o.WithVersion(proto.Version)
}

// Load reads configuration from path when non-empty, otherwise from common
// locations, with environment overrides. Environment variables use the TINC
// prefix and `.`/`-` replaced with `_`: TINC_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TINC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("name", cfg.Name)
	v.SetDefault("tcp_only", cfg.TCPOnly)
	v.SetDefault("indirect", cfg.Indirect)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("control.ping_interval", cfg.Control.PingInterval)
	v.SetDefault("control.ping_timeout", cfg.Control.PingTimeout)
	v.SetDefault("control.max_output_buffer", cfg.Control.MaxOutputBuffer)
	v.SetDefault("control.rate_limit", cfg.Control.RateLimit)
	v.SetDefault("net.listen", cfg.Net.Listen)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
	v.SetDefault("admin.socket", cfg.Admin.Socket)

	if path == "" {
		if envPath := os.Getenv("TINC_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tinc")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tinc")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tinc"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !proto.CheckID(c.Name) {
		return fmt.Errorf("invalid name: %q", c.Name)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Control.PingInterval <= 0 {
		return fmt.Errorf("control.ping_interval must be positive")
	}
	if c.Control.PingTimeout <= 0 || c.Control.PingTimeout >= c.Control.PingInterval {
		return fmt.Errorf("control.ping_timeout must be positive and below the interval")
	}
	if c.Control.MaxOutputBuffer < 0 || c.Control.RateLimit < 0 {
		return fmt.Errorf("control buffer and rate limits must not be negative")
	}
	for i, p := range c.Net.ConnectTo {
		if !proto.CheckID(p.Name) {
			return fmt.Errorf("net.connect_to[%d]: invalid name %q", i, p.Name)
		}
		if strings.TrimSpace(p.Address) == "" {
			return fmt.Errorf("net.connect_to[%d]: missing address", i)
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
