package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the verigate server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Captcha   CaptchaConfig
	Verify    VerifyConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	PublicURL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// CaptchaConfig is the challenge provider configuration. Values here are
// environment defaults; rows in the settings table override them at runtime.
type CaptchaConfig struct {
	ID        string
	Key       string
	APIServer string
	Timeout   time.Duration
}

type VerifyConfig struct {
	CodeTTL       time.Duration
	TokenSalt     string
	LegacyAPIKeys []string
}

type CleanupConfig struct {
	Schedule string
}

type RateLimitConfig struct {
	RequestsPerMin int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("VERIGATE_PORT", 8080),
			Env:       envString("VERIGATE_ENV", "development"),
			PublicURL: strings.TrimRight(os.Getenv("VERIGATE_PUBLIC_URL"), "/"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Captcha: CaptchaConfig{
			ID:        os.Getenv("CAPTCHA_ID"),
			Key:       os.Getenv("CAPTCHA_KEY"),
			APIServer: envString("CAPTCHA_API_SERVER", "https://gcaptcha4.geetest.com"),
			Timeout:   envDuration("CAPTCHA_TIMEOUT", 10*time.Second),
		},
		Verify: VerifyConfig{
			CodeTTL:       envDurationSecs("VERIGATE_CODE_EXPIRE_SECS", 300*time.Second),
			TokenSalt:     os.Getenv("VERIGATE_TOKEN_SALT"),
			LegacyAPIKeys: envList("VERIGATE_LEGACY_API_KEYS"),
		},
		Cleanup: CleanupConfig{
			Schedule: envString("VERIGATE_CLEANUP_SCHEDULE", "@hourly"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("VERIGATE_RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.PublicURL != "" &&
		!strings.HasPrefix(c.Server.PublicURL, "http://") &&
		!strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("VERIGATE_PUBLIC_URL must start with http:// or https://, got %q", c.Server.PublicURL)
	}

	if !strings.HasPrefix(c.Captcha.APIServer, "http://") &&
		!strings.HasPrefix(c.Captcha.APIServer, "https://") {
		return fmt.Errorf("CAPTCHA_API_SERVER must start with http:// or https://, got %q", c.Captcha.APIServer)
	}

	if c.Verify.CodeTTL <= 0 {
		return fmt.Errorf("VERIGATE_CODE_EXPIRE_SECS must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
