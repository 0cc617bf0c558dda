package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Challenge Settings
	ChallengeTTLHours      int
	StartStaleMinutes      int
	JanitorIntervalSeconds int
	MaxConnections         int

	// Security
	JWTSecret           string
	AdminSessionMinutes int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/playrivals?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Server
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Challenge Settings
		ChallengeTTLHours:      getEnvInt("CHALLENGE_TTL_HOURS", 24),
		StartStaleMinutes:      getEnvInt("START_STALE_MINUTES", 5),
		JanitorIntervalSeconds: getEnvInt("JANITOR_INTERVAL_SECONDS", 60),
		MaxConnections:         getEnvInt("MAX_CONNECTIONS", 10000),

		// Security
		JWTSecret:           getEnv("JWT_SECRET", "change-me-in-production"),
		AdminSessionMinutes: getEnvInt("ADMIN_SESSION_MINUTES", 240),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
