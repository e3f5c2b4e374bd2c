package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/KirkDiggler/localmsg/internal/stats"
)

// Config holds all configuration for the bus and its tools
type Config struct {
	Bus   BusConfig
	Stats StatsConfig
	Redis RedisConfig
}

// BusConfig holds dispatch behaviour switches
type BusConfig struct {
	Debug            bool
	Strict           bool
	IsolateListeners bool
}

// StatsConfig holds delivery statistics configuration
type StatsConfig struct {
	Prefix        string
	FlushInterval time.Duration
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// URL is optional; without it statistics stay in memory
	URL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Bus: BusConfig{
			Debug:            getEnvAsBoolOrDefault("LOCALMSG_DEBUG", false),
			Strict:           getEnvAsBoolOrDefault("LOCALMSG_STRICT", false),
			IsolateListeners: getEnvAsBoolOrDefault("LOCALMSG_ISOLATE_LISTENERS", false),
		},
		Stats: StatsConfig{
			Prefix:        getEnvOrDefault("LOCALMSG_STATS_PREFIX", stats.DefaultPrefix),
			FlushInterval: getEnvAsDurationOrDefault("LOCALMSG_STATS_FLUSH", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	if cfg.Stats.FlushInterval <= 0 {
		return nil, fmt.Errorf("LOCALMSG_STATS_FLUSH must be positive, got %s", cfg.Stats.FlushInterval)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
