// Package config loads cozygen settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// COZYGEN_* environment variables (a .env file in the working directory is
// read first). The merged result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COZYGEN"

// Config is the merged configuration.
type Config struct {
	BackendURL   string        `yaml:"backend_url" envconfig:"BACKEND_URL" validate:"required,url"`
	TemplatesDir string        `yaml:"templates_dir" envconfig:"TEMPLATES_DIR" validate:"required"`
	Database     string        `yaml:"database" envconfig:"DATABASE" validate:"required"`
	CatalogFile  string        `yaml:"catalog_file" envconfig:"CATALOG_FILE"`
	RedisURL     string        `yaml:"redis_url" envconfig:"REDIS_URL" validate:"omitempty,url"`
	CacheTTL     time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" validate:"gte=0"`
	Listen       string        `yaml:"listen" envconfig:"LISTEN" validate:"required,hostname_port"`
	LogLevel     string        `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Concurrency  int           `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"gte=0,lte=64"`
	Watch        bool          `yaml:"watch" envconfig:"WATCH"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BackendURL:   "http://127.0.0.1:8188",
		TemplatesDir: "workflows",
		Database:     "cozygen.db",
		CacheTTL:     5 * time.Minute,
		Listen:       "127.0.0.1:8190",
		LogLevel:     "info",
		Concurrency:  8,
		Watch:        true,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
