package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Env holds process settings read from the environment.
type Env struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
}

// LoadEnv reads process settings from environment variables and an
// optional .env file.
func LoadEnv() Env {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	return Env{
		ConfigPath: getEnvOrDefault("PAGEWATCH_CONFIG", "config.json"),
		LogLevel:   strings.ToLower(getEnvOrDefault("PAGEWATCH_LOG_LEVEL", "info")),
		LogFile:    getEnvOrDefault("PAGEWATCH_LOG_FILE", "logs/pagewatch.log"),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
