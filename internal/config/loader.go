package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the loader reads. A double
// underscore separates nesting levels: RELAY_SLACK__BOT_TOKEN sets
// slack.bot_token.
const EnvPrefix = "RELAY_"

// EnvConfigFile names the YAML file to load when no path is given.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Load reads configuration from the YAML file at path (or $RELAY_CONFIG when
// path is empty), then overlays RELAY_* environment variables, then validates
// the result. A .env file in the working directory is loaded into the
// environment first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps RELAY_SLACK__BOT_TOKEN to slack.bot_token.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make(map[string]struct{}, len(c.Monitors))
	for _, m := range c.Monitors {
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("invalid config: duplicate monitor name %q", m.Name)
		}
		names[m.Name] = struct{}{}
	}

	return nil
}
