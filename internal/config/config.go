// Package config loads capdeck settings from defaults, a YAML file,
// CAPDECK_ environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every environment override, e.g. CAPDECK_STORE_DRIVER.
const EnvPrefix = "CAPDECK_"

// Config holds application configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Session   SessionConfig   `koanf:"session"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Sources   SourcesConfig   `koanf:"sources"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
}

type StoreConfig struct {
	Driver string      `koanf:"driver" validate:"oneof=sqlite redis memory"`
	Path   string      `koanf:"path" validate:"required_if=Driver sqlite"`
	Redis  RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr   string `koanf:"addr" validate:"omitempty,hostname_port"`
	Prefix string `koanf:"prefix" validate:"required"`
}

type SessionConfig struct {
	// MaxCards caps a session; 0 means every due card.
	MaxCards int    `koanf:"max_cards" validate:"min=0"`
	Filter   string `koanf:"filter" validate:"oneof=all new learning review difficult"`
}

type SchedulerConfig struct {
	// MaxEase clamps the ease factor from above; 0 disables the clamp.
	MaxEase     float64 `koanf:"max_ease" validate:"eq=0|gte=1.3"`
	// MaxInterval caps scheduling intervals in days.
	MaxInterval int     `koanf:"max_interval" validate:"gte=6,lte=36500"`
}

type SourcesConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

var defaults = map[string]any{
	"store.driver":           "sqlite",
	"store.path":             "capdeck.db",
	"store.redis.addr":       "localhost:6379",
	"store.redis.prefix":     "capdeck",
	"session.max_cards":      20,
	"session.filter":         "all",
	"scheduler.max_ease":     0.0,
	"scheduler.max_interval": 36500,
	"sources.repos_dir":      "repos",
	"http.addr":              ":8080",
	"log.level":              "info",
	"log.format":             "text",
}

// RegisterFlags adds one flag per configuration key to fs, plus --config.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("store.driver", "sqlite", "Card store: sqlite, redis or memory")
	fs.String("store.path", "capdeck.db", "Path to the SQLite database file")
	fs.String("store.redis.addr", "localhost:6379", "Redis address")
	fs.String("store.redis.prefix", "capdeck", "Redis key prefix")
	fs.Int("session.max_cards", 20, "Maximum cards per study session (0 = all due)")
	fs.String("session.filter", "all", "Default due filter: all, new, learning, review or difficult")
	fs.Float64("scheduler.max_ease", 0, "Upper bound for the ease factor (0 = none)")
	fs.Int("scheduler.max_interval", 36500, "Longest interval between reviews in days")
	fs.String("sources.repos_dir", "repos", "Directory for cloned git sources")
	fs.String("http.addr", ":8080", "Listen address for serve")
	fs.String("log.level", "info", "Log level: debug, info, warn or error")
	fs.String("log.format", "text", "Log format: text or json")
}

// Load builds a Config. fs may be nil; when set, its --config flag names the
// YAML file and any flag the user changed overrides every other layer.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	path := os.Getenv(EnvPrefix + "CONFIG")
	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
		k.Delete("config")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CAPDECK_SESSION_MAX_CARDS to session.max_cards. Unknown
// variables map to "" and are skipped.
func envKey(name string) string {
	for key := range defaults {
		if name == EnvPrefix+strings.ToUpper(strings.ReplaceAll(key, ".", "_")) {
			return key
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field store requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Addr == "" {
		return errors.New("invalid config: store.redis.addr is required for the redis driver")
	}
	return nil
}
