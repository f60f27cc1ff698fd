package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/models"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	APIURL       string
	SocketURL    string
	Token        string
	UserID       string
	Role         models.Role
	DBFile       string
	MetricsAddr  string
	LogLevel     string
	HTTPTimeout  time.Duration
	HistoryTTL   time.Duration
	MaxReconnect int
	// TokenExpires is read from the token when it is a JWT, zero otherwise.
	TokenExpires time.Time
}

// fileConfig is the optional TOML file layout. Durations are strings
// such as "15s".
type fileConfig struct {
	Server struct {
		APIURL    string `toml:"api_url"`
		SocketURL string `toml:"socket_url"`
	} `toml:"server"`
	Auth struct {
		Token  string `toml:"token"`
		UserID string `toml:"user_id"`
		Role   string `toml:"role"`
	} `toml:"auth"`
	Client struct {
		DBFile       string `toml:"db"`
		MetricsAddr  string `toml:"metrics_addr"`
		LogLevel     string `toml:"log_level"`
		HTTPTimeout  string `toml:"http_timeout"`
		HistoryTTL   string `toml:"history_ttl"`
		MaxReconnect int    `toml:"max_reconnect"`
	} `toml:"client"`
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is not empty) and environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	fc := fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}

	httpTimeout, err := time.ParseDuration(getEnv("CHATSYNC_HTTP_TIMEOUT", or(fc.Client.HTTPTimeout, "15s")))
	if err != nil {
		return nil, fmt.Errorf("invalid CHATSYNC_HTTP_TIMEOUT: %w", err)
	}
	historyTTL, err := time.ParseDuration(getEnv("CHATSYNC_HISTORY_TTL", or(fc.Client.HistoryTTL, "30s")))
	if err != nil {
		return nil, fmt.Errorf("invalid CHATSYNC_HISTORY_TTL: %w", err)
	}
	maxReconnect := 5
	if fc.Client.MaxReconnect != 0 {
		maxReconnect = fc.Client.MaxReconnect
	}
	maxReconnect, err = strconv.Atoi(getEnv("CHATSYNC_MAX_RECONNECT", strconv.Itoa(maxReconnect)))
	if err != nil {
		return nil, fmt.Errorf("invalid CHATSYNC_MAX_RECONNECT: %w", err)
	}

	cfg := &Config{
		APIURL:       getEnv("CHATSYNC_API_URL", or(fc.Server.APIURL, "http://localhost:5000/api")),
		SocketURL:    getEnv("CHATSYNC_SOCKET_URL", or(fc.Server.SocketURL, "ws://localhost:5000/socket")),
		Token:        getEnv("CHATSYNC_TOKEN", fc.Auth.Token),
		UserID:       getEnv("CHATSYNC_USER_ID", fc.Auth.UserID),
		Role:         models.Role(getEnv("CHATSYNC_ROLE", fc.Auth.Role)),
		DBFile:       getEnv("CHATSYNC_DB", or(fc.Client.DBFile, "chatsync.db")),
		MetricsAddr:  getEnv("CHATSYNC_METRICS_ADDR", fc.Client.MetricsAddr),
		LogLevel:     getEnv("CHATSYNC_LOG_LEVEL", or(fc.Client.LogLevel, "info")),
		HTTPTimeout:  httpTimeout,
		HistoryTTL:   historyTTL,
		MaxReconnect: maxReconnect,
	}

	if claims, err := auth.Inspect(cfg.Token); err == nil {
		cfg.TokenExpires = claims.ExpiresAt
		if cfg.UserID == "" {
			cfg.UserID = claims.UserID
		}
		if cfg.Role == "" {
			cfg.Role = models.Role(claims.Role)
		}
	}
	if cfg.Role == "" {
		cfg.Role = models.RoleUser
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("CHATSYNC_TOKEN is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("CHATSYNC_USER_ID is required")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("CHATSYNC_ROLE must be one of user, vendor, admin")
	}
	if err := validateURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("CHATSYNC_API_URL: %w", err)
	}
	if err := validateURL(c.SocketURL, "ws", "wss"); err != nil {
		return fmt.Errorf("CHATSYNC_SOCKET_URL: %w", err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("CHATSYNC_HTTP_TIMEOUT must be greater than 0")
	}
	if c.HistoryTTL <= 0 {
		return fmt.Errorf("CHATSYNC_HISTORY_TTL must be greater than 0")
	}
	if c.MaxReconnect <= 0 {
		return fmt.Errorf("CHATSYNC_MAX_RECONNECT must be greater than 0")
	}

	return nil
}

// TokenExpired reports whether the token is known to have expired at now.
func (c *Config) TokenExpired(now time.Time) bool {
	return !c.TokenExpires.IsZero() && !now.Before(c.TokenExpires)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("CHATSYNC_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("expected %s URL, got %q", strings.Join(schemes, " or "), raw)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
