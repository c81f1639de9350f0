package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	Timezone              string
	SMSProvider           string
	SMSTemplate           string
	SMSCountryPrefix      string
	SMSTimeout            time.Duration
	RateLimitPerMinute    int
	RateLimitBurst        int
	SequenceRetentionDays int
	MaintenanceSpec       string
}

func Load() Config {
	// A missing .env is fine in deployed environments.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		Timezone:              os.Getenv("TIMEZONE"),
		SMSProvider:           os.Getenv("SMS_PROVIDER"),
		SMSTemplate:           os.Getenv("SMS_TEMPLATE"),
		SMSCountryPrefix:      os.Getenv("SMS_COUNTRY_PREFIX"),
		SMSTimeout:            readDurationSeconds("SMS_TIMEOUT_SECONDS", 10),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
		SequenceRetentionDays: readInt("SEQUENCE_RETENTION_DAYS", 30),
		MaintenanceSpec:       readString("MAINTENANCE_CRON", "@midnight"),
	}
}

// Location resolves the configured timezone, defaulting to UTC. Day windows
// and ticket sequence keys all derive from this location.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
