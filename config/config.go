// Package config loads server settings from the environment (and an
// optional .env file). Command-line flags in cmd/server override them.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	ExpiryCron     string
	ExpiryEnabled  bool
	AllowedOrigins []string
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getEnvInt("PORT", 8080),
		DBPath:        getEnv("DB_PATH", "attendance.db"),
		ExpiryCron:    getEnv("EXPIRY_CRON", "15 2 * * *"),
		ExpiryEnabled: getEnvBool("EXPIRY_ENABLED", true),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS",
			"http://localhost:5173,http://localhost:8080")),
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "PORT out of range")
	}
	if c.DBPath == "" {
		problems = append(problems, "DB_PATH is empty")
	}
	if c.ExpiryEnabled && c.ExpiryCron == "" {
		problems = append(problems, "EXPIRY_CRON is empty")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
