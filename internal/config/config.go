package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CouponServiceURL   string
	InventoryURL       string
	SettingsURL        string
	CORSAllowedOrigins []string

	FreeShippingThreshold int64
	FirstTimeWithCoupons  bool
	ThresholdBasis        string

	CartTTL        time.Duration
	IdempotencyTTL time.Duration
	SettingsTTL    time.Duration

	RateLimitRPM    int
	BreakerMinReqs  int
	BreakerRatio    float64
	BreakerOpenFor  time.Duration
	UpstreamTimeout time.Duration

	LogFormat string
	LogLevel  string
	OTLPURL   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		CouponServiceURL:   k.String("COUPON_SERVICE_URL"),
		InventoryURL:       k.String("INVENTORY_SERVICE_URL"),
		SettingsURL:        k.String("SETTINGS_SERVICE_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		FreeShippingThreshold: k.Int64("FREE_SHIPPING_THRESHOLD"),
		FirstTimeWithCoupons:  parseBool(k.String("PRICING_FIRST_TIME_WITH_COUPONS")),
		ThresholdBasis:        valueOrDefault(k.String("PRICING_THRESHOLD_BASIS"), "subtotal-minus-coupon"),

		CartTTL:        parseDuration(k.String("CART_TTL"), "168h"),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SettingsTTL:    parseDuration(k.String("SETTINGS_CACHE_TTL"), "5m"),

		RateLimitRPM:    parseInt(k.String("RATE_LIMIT_RPM"), 120),
		BreakerMinReqs:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerRatio:    parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:  parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		UpstreamTimeout: parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
		OTLPURL:   k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CouponServiceURL == "" {
		return nil, errors.New("COUPON_SERVICE_URL is required")
	}
	if cfg.FreeShippingThreshold < 0 {
		cfg.FreeShippingThreshold = 0
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
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
