package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Email    EmailConfig
	OAuth    OAuthConfig
}

type ServerConfig struct {
	Port            string
	URL             string // public base URL, used for OAuth callback links
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for cookie auth
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AuthConfig holds token signing configuration. Access and refresh tokens
// use independent secrets and lifetimes so compromising one cannot forge
// the other kind.
type AuthConfig struct {
	// Codec selects the token format: "jwt" (HS256) or "paseto" (v4.local).
	Codec string
	// RefreshLedger selects where single-use refresh tokens live:
	// "postgres" or "redis".
	RefreshLedger        string
	AccessTokenSecret    []byte
	RefreshTokenSecret   []byte
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	RefreshCookieName    string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	FrontendURL  string // Frontend URL for verification links
}

// ProviderConfig holds credentials for one federated identity provider.
type ProviderConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
}

type OAuthConfig struct {
	Google    ProviderConfig
	Microsoft ProviderConfig
	Apple     ProviderConfig
}

// Load reads configuration from environment variables
// Call godotenv.Load() before this if using .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			URL:             getEnv("SERVER_URL", "http://localhost:8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "goauth"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Codec:                getEnv("TOKEN_CODEC", "jwt"),
			RefreshLedger:        getEnv("REFRESH_LEDGER", "postgres"),
			AccessTokenSecret:    []byte(getEnv("ACCESS_TOKEN_SECRET", "")),
			RefreshTokenSecret:   []byte(getEnv("REFRESH_TOKEN_SECRET", "")),
			AccessTokenDuration:  getDurationEnv("ACCESS_TOKEN_DURATION", 20*time.Minute),
			RefreshTokenDuration: getDurationEnv("REFRESH_TOKEN_DURATION", 24*time.Hour),
			RefreshCookieName:    getEnv("REFRESH_TOKEN_COOKIE_NAME", "jid"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASS", ""),
			FromEmail:    getEnv("EMAIL_FROM", ""),
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		OAuth: OAuthConfig{
			Google: ProviderConfig{
				Enabled:      getBoolEnv("GOOGLE_ENABLE", false),
				ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			},
			Microsoft: ProviderConfig{
				Enabled:      getBoolEnv("MICROSOFT_ENABLE", false),
				ClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
				ClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
			},
			Apple: ProviderConfig{
				Enabled:      getBoolEnv("APPLE_ENABLE", false),
				ClientID:     getEnv("APPLE_CLIENT_ID", ""),
				ClientSecret: getEnv("APPLE_CLIENT_SECRET", ""),
			},
		},
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *AuthConfig) validate() error {
	switch c.Codec {
	case "jwt":
		if len(c.AccessTokenSecret) < 8 {
			return fmt.Errorf("ACCESS_TOKEN_SECRET must be at least 8 bytes, got %d", len(c.AccessTokenSecret))
		}
		if len(c.RefreshTokenSecret) < 8 {
			return fmt.Errorf("REFRESH_TOKEN_SECRET must be at least 8 bytes, got %d", len(c.RefreshTokenSecret))
		}
	case "paseto":
		// v4.local requires exactly 32-byte symmetric keys
		if len(c.AccessTokenSecret) != 32 {
			return fmt.Errorf("ACCESS_TOKEN_SECRET must be exactly 32 bytes for paseto, got %d", len(c.AccessTokenSecret))
		}
		if len(c.RefreshTokenSecret) != 32 {
			return fmt.Errorf("REFRESH_TOKEN_SECRET must be exactly 32 bytes for paseto, got %d", len(c.RefreshTokenSecret))
		}
	default:
		return fmt.Errorf("TOKEN_CODEC must be \"jwt\" or \"paseto\", got %q", c.Codec)
	}

	if string(c.AccessTokenSecret) == string(c.RefreshTokenSecret) {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if c.RefreshLedger != "postgres" && c.RefreshLedger != "redis" {
		return fmt.Errorf("REFRESH_LEDGER must be \"postgres\" or \"redis\", got %q", c.RefreshLedger)
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
