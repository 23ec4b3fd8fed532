package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseDriver string // "postgres" | "sqlite"
	DatabaseURL    string
	SQLitePath     string
	MigrationsDir  string

	// Redis (optional; without it locks and pushes stay in-process)
	RedisURL string

	// JWT
	JWTSecret string

	// Logging
	LogMode string

	// Aggregation
	Timezone      string
	WorkerCount   int
	SweepInterval time.Duration // 0 disables the pending-attempt sweeper
	TuningFile    string
	Tuning        Tuning

	// Frontend
	FrontendURL string
}

func Load() *Config {
	return load(true)
}

// LoadTool is Load for operator commands that never issue tokens.
func LoadTool() *Config {
	return load(false)
}

func load(requireSecret bool) *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		Env:            getEnvOrDefault("ENV", "development"),
		DatabaseDriver: getEnvOrDefault("DATABASE_DRIVER", "postgres"),
		SQLitePath:     getEnvOrDefault("SQLITE_PATH", "./data/asd.db"),
		MigrationsDir:  getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:       getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LogMode:        getEnvOrDefault("LOG_MODE", "development"),
		Timezone:       getEnvOrDefault("APP_TIMEZONE", "Local"),
		WorkerCount:    getEnvAsIntOrDefault("WORKER_COUNT", 3),
		SweepInterval:  time.Duration(getEnvAsIntOrDefault("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		TuningFile:     getEnvOrDefault("TUNING_FILE", "tuning.toml"),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	if requireSecret && cfg.JWTSecret == "" {
		panic("required environment variable JWT_SECRET is not set")
	}
	if cfg.DatabaseDriver == "postgres" {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	}

	tuning, err := LoadTuning(cfg.TuningFile)
	if err != nil {
		panic(err)
	}
	cfg.Tuning = tuning

	return cfg
}

// Location resolves APP_TIMEZONE. Day and week boundaries of the summaries
// are midnights in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
