package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string
	// GroupIDs is the fixed pool of escrow group chat IDs, in the order
	// they are scanned for a free channel
	GroupIDs     []int64
	DBPath       string
	HTTPAddr     string
	CleanupGrace time.Duration
	LogLevel     string
	LogFormat    string
}

// NewConfig creates a new configuration from environment variables
func NewConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment only")
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	groupIDs, err := parseGroupIDs(os.Getenv("ESCROW_GROUP_IDS"))
	if err != nil {
		return nil, err
	}

	graceSeconds, err := strconv.Atoi(getEnv("CLEANUP_GRACE_SECONDS", "10"))
	if err != nil || graceSeconds <= 0 {
		return nil, errors.Errorf("invalid CLEANUP_GRACE_SECONDS: %q", os.Getenv("CLEANUP_GRACE_SECONDS"))
	}

	return &Config{
		TelegramToken: token,
		GroupIDs:      groupIDs,
		DBPath:        getEnv("DB_PATH", "./escrow.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":3000"),
		CleanupGrace:  time.Duration(graceSeconds) * time.Second,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}, nil
}

func parseGroupIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("ESCROW_GROUP_IDS is required")
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid group id %q in ESCROW_GROUP_IDS", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("ESCROW_GROUP_IDS contains no group ids")
	}
	return ids, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
