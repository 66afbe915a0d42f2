package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	HTTPAddr  string
	CachePath string
	LogLevel  string

	// Service-level defaults for protocol-backed users
	Remote RemoteDefaults

	// Outbound relay settings
	SMTP SMTPConfig

	// Accounts seeded at startup
	DemoUsers []DemoUser
}

// RemoteDefaults are the IMAP settings merged under any per-user
// overrides. A user resolves to the protocol backend only when host and
// credentials are present after the merge.
type RemoteDefaults struct {
	Host          string
	Port          int
	TLS           bool
	Username      string
	Password      string
	SentMailbox   string
	TLSSkipVerify bool
}

// SMTPConfig holds the relay connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// DemoUser is an account provisioned at startup.
type DemoUser struct {
	Email    string
	Password string
	Name     string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		CachePath: getEnv("CACHE_PATH", ":memory:"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Remote: RemoteDefaults{
			Host:          getEnv("IMAP_HOST", ""),
			Port:          getEnvInt("IMAP_PORT", 993),
			TLS:           getEnvBool("IMAP_TLS", true),
			Username:      getEnv("IMAP_USERNAME", ""),
			Password:      getEnv("IMAP_PASSWORD", ""),
			SentMailbox:   getEnv("IMAP_SENT_MAILBOX", ""),
			TLSSkipVerify: getEnvBool("IMAP_TLS_SKIP_VERIFY", false),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
	}

	users, err := parseDemoUsers(getEnv("DEMO_USERS", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DEMO_USERS: %w", err)
	}
	cfg.DemoUsers = users

	return cfg, nil
}

// parseDemoUsers parses "email:password:Name" entries separated by
// commas. Name is optional.
func parseDemoUsers(raw string) ([]DemoUser, error) {
	if raw == "" {
		return nil, nil
	}

	var users []DemoUser
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid demo user entry: %s", entry)
		}
		user := DemoUser{Email: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			user.Name = parts[2]
		}
		users = append(users, user)
	}
	return users, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}
	if c.Remote.Port < 1 || c.Remote.Port > 65535 {
		return fmt.Errorf("invalid IMAP_PORT")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid SMTP_PORT")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
