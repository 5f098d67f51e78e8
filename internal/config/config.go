package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port    string
	Env     string
	LogMode string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Compliance
	ComplianceTimezone       string
	HeartbeatRateLimitPerMin int
	APIRateLimitPerMin       int
	MaintenanceIntervalMin   int
	EnrollmentRequiredUnits  []string

	// Workers
	CertificateWorkers int

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                     getEnvOrDefault("PORT", "8080"),
		Env:                      getEnvOrDefault("ENV", "development"),
		LogMode:                  getEnvOrDefault("LOG_MODE", "development"),
		DatabaseURL:              mustGetEnv("DATABASE_URL"),
		MigrationsDir:            getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:                 mustGetEnv("REDIS_URL"),
		JWTSecret:                mustGetEnv("JWT_SECRET"),
		ComplianceTimezone:       getEnvOrDefault("COMPLIANCE_TIMEZONE", "America/New_York"),
		HeartbeatRateLimitPerMin: getEnvAsIntOrDefault("HEARTBEAT_RATE_LIMIT_PER_MIN", 12),
		APIRateLimitPerMin:       getEnvAsIntOrDefault("API_RATE_LIMIT_PER_MIN", 120),
		MaintenanceIntervalMin:   getEnvAsIntOrDefault("MAINTENANCE_INTERVAL_MINUTES", 60),
		EnrollmentRequiredUnits:  getEnvAsListOrDefault("ENROLLMENT_REQUIRED_UNITS", []string{"unit-1", "unit-2"}),
		CertificateWorkers:       getEnvAsIntOrDefault("CERTIFICATE_WORKERS", 2),
		SMTPHost:                 getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:                 getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:                 getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:                 getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:                 getEnvOrDefault("SMTP_FROM", "noreply@fastrackdrivingschool.com"),
		FrontendURL:              getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
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
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

// getEnvAsListOrDefault splits a comma-separated value, dropping blanks.
func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
