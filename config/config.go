package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Messaging MessagingConfig
	Billing   BillingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins []string
	Timezone           string
}

type DatabaseConfig struct {
	Path string
}

type MessagingConfig struct {
	NatsURL string // empty disables NATS; announcements go to the log
}

type BillingConfig struct {
	PlanCacheTTL     time.Duration
	SchedulerEnabled bool
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		log.Printf("Note: unknown TIMEZONE %q, using local time", c.App.Timezone)
		return time.Local
	}
	return loc
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8080"),
			Environment:        getEnv("APP_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "smartmess.log"),
			CorsAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			Timezone:           getEnv("TIMEZONE", "Asia/Kolkata"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "smartmess.db"),
		},
		Messaging: MessagingConfig{
			NatsURL: getEnv("NATS_URL", ""),
		},
		Billing: BillingConfig{
			PlanCacheTTL:     getEnvAsDuration("PLAN_CACHE_TTL", time.Hour),
			SchedulerEnabled: getEnvAsBool("SCHEDULER_ENABLED", true),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
