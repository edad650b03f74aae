// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	InputPath        string
	OutputPath       string
	RulesPath        string
	ScanInterval     time.Duration
	Debounce         time.Duration
	HostDomains      []string
	MetricsAddr      string
}

// LoadEnvFiles reads variables from the given .env files into the process
// environment. Missing files are skipped and variables that are already set
// win. It returns the files that were loaded.
func LoadEnvFiles(files ...string) ([]string, error) {
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("load %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	scan, err := durationEnv("SCAN_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}
	debounce, err := durationEnv("DEBOUNCE", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	hosts := []string{"twitter.com", "x.com"}
	if raw := os.Getenv("HOST_DOMAINS"); raw != "" {
		hosts = hosts[:0]
		for _, h := range strings.Split(raw, ",") {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				hosts = append(hosts, h)
			}
		}
	}

	return &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/feedfilter.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		AllowedUsers:     allowedUsers,
		InputPath:        os.Getenv("INPUT_PATH"),
		OutputPath:       envOrDefault("OUTPUT_PATH", "./data/timeline.html"),
		RulesPath:        os.Getenv("RULES_PATH"),
		ScanInterval:     scan,
		Debounce:         debounce,
		HostDomains:      hosts,
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}, nil
}

// BotEnabled reports whether a Telegram token is configured.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
