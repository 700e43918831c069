package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DBPath         string
	WebDir         string
	AllowedOrigins []string
	TrustedProxies []string

	// RoomRetention is how long an empty room's state survives before
	// eviction. ArchiveRetention bounds the saved-session table.
	RoomRetention    time.Duration
	ArchiveRetention time.Duration
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "drawboard.db"),
		WebDir:           getEnv("WEB_DIR", "web"),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
		TrustedProxies:   splitList(os.Getenv("TRUSTED_PROXIES")),
		RoomRetention:    time.Hour,
		ArchiveRetention: 30 * 24 * time.Hour,
	}

	if v := os.Getenv("ROOM_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("ROOM_RETENTION must be a positive duration (got %q)", v)
		}
		cfg.RoomRetention = d
	}
	if v := os.Getenv("ARCHIVE_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("ARCHIVE_RETENTION must be a positive duration (got %q)", v)
		}
		cfg.ArchiveRetention = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
