// Package config loads catalog settings from .env files, an optional YAML file and CATALOG_*
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file when Load is given no path.
const EnvConfigPath = "CATALOG_CONFIG"

type Config struct {
	BaseURL        string        `yaml:"baseURL"        validate:"required,url"`
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	// RPS of zero disables client-side rate limiting.
	RPS           float64       `yaml:"rps"           validate:"gte=0"`
	Burst         int           `yaml:"burst"         validate:"gte=0"`
	MaxRetries    int           `yaml:"maxRetries"    validate:"gte=0,lte=10"`
	PollInterval  time.Duration `yaml:"pollInterval"  validate:"gte=0"`
	KeepUnusedFor time.Duration `yaml:"keepUnusedFor" validate:"gt=0"`
	PageSize      int           `yaml:"pageSize"      validate:"gte=1,lte=100"`
	LogLevel      string        `yaml:"logLevel"      validate:"oneof=debug info warn error"`
	LogFormat     string        `yaml:"logFormat"     validate:"oneof=text json"`
}

// Default returns the settings used for anything not configured.
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:5000/api",
		RequestTimeout: 15 * time.Second,
		RPS:            10,
		Burst:          5,
		MaxRetries:     2,
		PollInterval:   30 * time.Second,
		KeepUnusedFor:  60 * time.Second,
		PageSize:       10,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load builds the configuration. An empty path falls back to $CATALOG_CONFIG; when that is
// empty too no file is read.
func Load(path string) (Config, error) {
	loadEnvFiles()

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	// Do not override environment provided by the shell.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

func applyEnv(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("CATALOG_BASE_URL", &cfg.BaseURL)
	dur("CATALOG_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	if v := os.Getenv("CATALOG_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CATALOG_RPS: %w", err))
		} else {
			cfg.RPS = f
		}
	}
	num("CATALOG_BURST", &cfg.Burst)
	num("CATALOG_MAX_RETRIES", &cfg.MaxRetries)
	dur("CATALOG_POLL_INTERVAL", &cfg.PollInterval)
	dur("CATALOG_KEEP_UNUSED_FOR", &cfg.KeepUnusedFor)
	num("CATALOG_PAGE_SIZE", &cfg.PageSize)
	str("CATALOG_LOG_LEVEL", &cfg.LogLevel)
	str("CATALOG_LOG_FORMAT", &cfg.LogFormat)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

var validate = validator.New()

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
