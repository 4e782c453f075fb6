// Package config provides application configuration for the chat client and
// the reference gateway.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client holds chatdesk client configuration.
type Client struct {
	APIURL         string
	StatePath      string
	RequestTimeout time.Duration
	// GuestMessageCap enables local blocking of guest sends before the gateway
	// reports its limit. 0 disables it.
	GuestMessageCap int
	LogLevel        slog.Level
}

// Gateway holds reference gateway configuration.
type Gateway struct {
	Port              string
	FrontendURL       string
	DBPath            string
	GuestMessageLimit int
	BcryptCost        int
	LogLevel          slog.Level
	RateLimit         RateLimitConfig
	Admin             AdminSeed
}

// RateLimitConfig controls per-caller request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// AdminSeed describes the admin account created at startup when absent.
// An empty password disables seeding.
type AdminSeed struct {
	Username string
	Password string
	Email    string
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*Client, error) {
	cfg := &Client{
		APIURL:          getEnv("CHATDESK_API_URL", "http://localhost:8080/api"),
		StatePath:       getEnv("CHATDESK_STATE_PATH", defaultStatePath()),
		RequestTimeout:  getEnvDuration("CHATDESK_REQUEST_TIMEOUT", 30*time.Second),
		GuestMessageCap: getEnvInt("GUEST_MESSAGE_CAP", 0),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelWarn),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the client configuration.
func (c *Client) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("CHATDESK_API_URL cannot be empty")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CHATDESK_API_URL must be an absolute http(s) URL")
	}
	if c.StatePath == "" {
		return fmt.Errorf("CHATDESK_STATE_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("CHATDESK_REQUEST_TIMEOUT must be > 0")
	}
	if c.GuestMessageCap < 0 {
		return fmt.Errorf("GUEST_MESSAGE_CAP must be >= 0")
	}
	return nil
}

// LoadGateway reads gateway configuration from environment variables.
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/chatdesk.db"),
		GuestMessageLimit: getEnvInt("GUEST_MESSAGE_LIMIT", 5),
		BcryptCost:        getEnvInt("BCRYPT_COST", 10),
		LogLevel:          getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Admin: AdminSeed{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Email:    getEnv("ADMIN_EMAIL", "admin@localhost"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required gateway configuration fields are set.
func (c *Gateway) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GuestMessageLimit <= 0 {
		return fmt.Errorf("GUEST_MESSAGE_LIMIT must be > 0")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Admin.Password != "" && c.Admin.Username == "" {
		return fmt.Errorf("ADMIN_USERNAME cannot be empty when ADMIN_PASSWORD is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Gateway) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the gateway.
func (c *Gateway) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./chatdesk.db"
	}
	return filepath.Join(dir, "chatdesk", "state.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
