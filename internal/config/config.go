// Package config loads service configuration with priority: environment
// variables over the optional YAML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string  `yaml:"listen_addr" validate:"required"`
	LogLevel   string  `yaml:"log_level" validate:"required,oneof=trace debug info warn error"`
	LogFormat  string  `yaml:"log_format" validate:"required,oneof=json console"`
	Store      Store   `yaml:"store"`
	Session    Session `yaml:"session"`
}

type Store struct {
	// Backend selects where documents and operation logs live.
	Backend       string `yaml:"backend" validate:"required,oneof=memory redis postgres"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"min=0"`
	DatabaseURL   string `yaml:"database_url" validate:"required_if=Backend postgres"`

	// MaxRetries bounds how often a failed store call is retried before
	// the submission is reported as a transient failure.
	MaxRetries      int `yaml:"max_retries" validate:"min=0,max=10"`
	RetryIntervalMS int `yaml:"retry_interval_ms" validate:"min=1"`
}

type Session struct {
	// SendBuffer is the per-session outbound queue; sessions that fall
	// this far behind are evicted.
	SendBuffer int `yaml:"send_buffer" validate:"min=1"`

	// CheckpointEvery persists a snapshot after this many commits.
	CheckpointEvery int64 `yaml:"checkpoint_every" validate:"min=1"`

	// PresencePerSecond and PresenceBurst rate-limit cursor updates
	// per session before they reach the coordinator.
	PresencePerSecond float64 `yaml:"presence_per_second" validate:"gt=0"`
	PresenceBurst     int     `yaml:"presence_burst" validate:"min=1"`
}

func (s Store) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMS) * time.Millisecond
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "json",
		Store: Store{
			Backend:         "redis",
			RedisAddr:       "localhost:6379",
			RedisPassword:   "", // no password set
			RedisDB:         0,  // use default DB
			MaxRetries:      3,
			RetryIntervalMS: 100,
		},
		Session: Session{
			SendBuffer:        64,
			CheckpointEvery:   50,
			PresencePerSecond: 20,
			PresenceBurst:     40,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path if
// one exists, and finally the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	loadFromEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Store.RedisDB = i
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("STORE_MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Store.MaxRetries = i
		}
	}
	if v := os.Getenv("STORE_RETRY_INTERVAL_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Store.RetryIntervalMS = i
		}
	}
	if v := os.Getenv("SESSION_SEND_BUFFER"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Session.SendBuffer = i
		}
	}
	if v := os.Getenv("CHECKPOINT_EVERY"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Session.CheckpointEvery = i
		}
	}
	if v := os.Getenv("PRESENCE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.PresencePerSecond = f
		}
	}
	if v := os.Getenv("PRESENCE_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Session.PresenceBurst = i
		}
	}
}
