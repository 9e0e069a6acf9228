// Package config defines relay configuration and loads it from a YAML file
// and environment variables.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Slack         SlackConfig         `koanf:"slack"`
	GoCD          GoCDConfig          `koanf:"gocd"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Monitors      []MonitorConfig     `koanf:"monitors" validate:"required,min=1,dive"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required,numeric"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,numeric,nefield=Port"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SlackConfig configures both directions of the Slack integration.
type SlackConfig struct {
	SigningSecret     string        `koanf:"signing_secret" validate:"required"`
	VerificationToken string        `koanf:"verification_token"`
	BotToken          string        `koanf:"bot_token" validate:"required"`
	GoCDBotID         string        `koanf:"gocd_bot_id" validate:"required"`
	APIURL            string        `koanf:"api_url" validate:"omitempty,url"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit         float64       `koanf:"rate_limit" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
}

// GoCDConfig configures the pipeline history client.
type GoCDConfig struct {
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	AuthToken string        `koanf:"auth_token" validate:"required"`
	Accept    string        `koanf:"accept" validate:"required"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	CAFile    string        `koanf:"ca_file" validate:"omitempty,file"`
}

// NotificationsConfig configures the notification index.
type NotificationsConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	StaleAfter    time.Duration `koanf:"stale_after" validate:"gt=0"`
	SendTimeout   time.Duration `koanf:"send_timeout" validate:"gt=0"`
}

// MonitorConfig routes pipelines whose name starts with FilterPrefix to
// PostChannel.
type MonitorConfig struct {
	Name         string `koanf:"name" validate:"required"`
	FilterPrefix string `koanf:"filter_prefix" validate:"required"`
	PostChannel  string `koanf:"post_channel" validate:"required"`
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8000",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Slack: SlackConfig{
			Timeout:   10 * time.Second,
			RateLimit: 1,
			Burst:     5,
		},
		GoCD: GoCDConfig{
			Accept:  "application/vnd.go.cd.v1+json",
			Timeout: time.Second,
		},
		Notifications: NotificationsConfig{
			SweepInterval: 24 * time.Hour,
			StaleAfter:    4 * time.Hour,
			SendTimeout:   5 * time.Second,
		},
	}
}
