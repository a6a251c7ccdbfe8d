package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir      string
	RegistryURL  string
	AuthURL      string
	AuthService  string
	PlatformOS   string
	PlatformArch string
	LogLevel     slog.Level
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:      getEnv("VESSEL_DATA_DIR", "/var/lib/vessel"),
		RegistryURL:  getEnv("VESSEL_REGISTRY", "https://registry-1.docker.io"),
		AuthURL:      getEnv("VESSEL_AUTH_URL", "https://auth.docker.io/token"),
		AuthService:  getEnv("VESSEL_AUTH_SERVICE", "registry.docker.io"),
		PlatformOS:   getEnv("VESSEL_OS", "linux"),
		PlatformArch: getEnv("VESSEL_ARCH", "amd64"),
		LogLevel:     parseLevel(getEnv("VESSEL_LOG_LEVEL", "info")),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
