// Package config loads NextPay client settings from the environment, for
// applications that wire the client from deployment configuration rather
// than code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/nextpay-go"
)

// Config holds everything needed to construct a nextpay.Client.
type Config struct {
	APIKey      string `validate:"required"`
	Amount      int64  `validate:"gt=0"`
	CallbackURI string `validate:"required,url"`
	BaseURL     string `validate:"omitempty,url"`
	UserAgent   string
	HTTPTimeout time.Duration
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from environment variables and an optional .env
// file, then validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	amount, err := parseAmount(k.String("NEXTPAY_AMOUNT"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIKey:      strings.TrimSpace(k.String("NEXTPAY_API_KEY")),
		Amount:      amount,
		CallbackURI: strings.TrimSpace(k.String("NEXTPAY_CALLBACK_URI")),
		BaseURL:     strings.TrimSpace(k.String("NEXTPAY_BASE_URL")),
		UserAgent:   strings.TrimSpace(k.String("NEXTPAY_USER_AGENT")),
		HTTPTimeout: parseDuration(k.String("NEXTPAY_HTTP_TIMEOUT"), "30s"),
		LogLevel:    valueOrDefault(k.String("NEXTPAY_LOG_LEVEL"), "info"),
		LogFormat:   valueOrDefault(k.String("NEXTPAY_LOG_FORMAT"), "json"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewClient builds a ready-to-use client from the configuration.
func (c *Config) NewClient(logger zerolog.Logger) *nextpay.Client {
	opts := []nextpay.Option{nextpay.WithLogger(logger)}
	if c.BaseURL != "" {
		opts = append(opts, nextpay.WithBaseURL(c.BaseURL))
	}
	if c.UserAgent != "" {
		opts = append(opts, nextpay.WithUserAgent(c.UserAgent))
	}
	return nextpay.New(c.APIKey, c.Amount, c.CallbackURI, opts...)
}

func parseAmount(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("NEXTPAY_AMOUNT %q is not an integer: %w", trimmed, err)
	}
	return amount, nil
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(envVars map[string]string) (*Config, error) {
	original := make(map[string]string, len(envVars))
	for key := range envVars {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envVars[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
