package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds listen address and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds identity and throttling settings.
type SecurityConfig struct {
	// SigningKeys verify HMAC user signatures presented at connect and
	// on REST calls.
	SigningKeys []string `yaml:"signing_keys"`
	RateLimit   struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RealtimeConfig tunes the websocket gateway and its liveness signals.
type RealtimeConfig struct {
	// PongWait is how long a session may stay silent before it is
	// considered dead; PingPeriod must be shorter.
	PongWait       Duration  `yaml:"pong_wait"`
	PingPeriod     Duration  `yaml:"ping_period"`
	WriteWait      Duration  `yaml:"write_wait"`
	MaxMessageSize SizeBytes `yaml:"max_message_size"`
	SendBuffer     int       `yaml:"send_buffer"`
}

// RetentionConfig drives the expired-notification sweeper.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	BatchSize int    `yaml:"batch_size"`
	DryRun    bool   `yaml:"dry_run"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration and parses YAML strings like "100ms" or
// plain numbers interpreted as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// DurationOr returns the configured duration or def when unset.
func (d Duration) DurationOr(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}
