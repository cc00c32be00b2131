// Package config loads service settings from an optional YAML file with
// environment-variable overrides. Env always wins, so a containerized
// deployment can run without a file at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string  `yaml:"addr"`
	DatabaseURL   string  `yaml:"databaseUrl"`
	RedisURL      string  `yaml:"redisUrl"`
	CaptureDBPath string  `yaml:"captureDbPath"`
	SyncURL       string  `yaml:"syncUrl"`
	SyncSecret    string  `yaml:"syncSecret"`
	AuthMode      string  `yaml:"authMode"`
	AuthSecret    string  `yaml:"authSecret"`
	GeofenceM     float64 `yaml:"geofenceMeters"`
	LogLevel      string  `yaml:"logLevel"`
	RateLimitRPS  float64 `yaml:"rateLimitRps"`
	RateBurst     int     `yaml:"rateBurst"`
}

// Load reads path if it exists, then applies env overrides and defaults.
// An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Addr, "ADDR")
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.CaptureDBPath, "CAPTURE_DB_PATH")
	setStr(&cfg.SyncURL, "SYNC_URL")
	setStr(&cfg.SyncSecret, "SYNC_SECRET")
	setStr(&cfg.AuthMode, "AUTH_MODE")
	setStr(&cfg.AuthSecret, "AUTH_HMAC_SECRET")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("GEOFENCE_METERS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.GeofenceM = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBurst = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = "dev"
	}
	if cfg.GeofenceM <= 0 {
		cfg.GeofenceM = 120
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 100
	}
}
