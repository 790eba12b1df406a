package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}

func (s Secret) Value() string {
	return string(s.value)
}

func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}

func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port         string
	Environment  string
	LogLevel     string
	DatabasePath string

	MaxPasteSize  int64
	ListLimit     int
	PreviewLength int

	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration
	ContextTimeout time.Duration

	OAuthClientID     string
	OAuthClientSecret Secret
	OAuthRedirectURL  string
	SessionSecret     Secret

	MetricsUser string
	MetricsPass Secret
}

func Load() (*Cfg, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "snipbin.db")

	var err error
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 1<<20)
	if err != nil {
		return nil, err
	}
	c.ListLimit, err = getInt("LIST_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	c.PreviewLength, err = getInt("PREVIEW_LENGTH", 150)
	if err != nil {
		return nil, err
	}
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	c.OAuthClientID = getEnv("OAUTH_CLIENT_ID", "")
	c.OAuthClientSecret = NewSecret(getEnv("OAUTH_CLIENT_SECRET", ""))
	c.OAuthRedirectURL = getEnv("OAUTH_REDIRECT_URL", "")
	c.SessionSecret = NewSecret(getEnv("SESSION_SECRET", ""))

	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.ListLimit <= 0 || c.ListLimit > 1000 {
		return errors.New("LIST_LIMIT must be between 1 and 1000")
	}
	if c.PreviewLength <= 0 {
		return errors.New("PREVIEW_LENGTH must be positive")
	}
	if c.OAuthClientID != "" {
		if c.OAuthClientSecret.Value() == "" {
			return errors.New("OAUTH_CLIENT_SECRET is required when OAUTH_CLIENT_ID is set")
		}
		if len(c.SessionSecret.Value()) < 32 {
			return errors.New("SESSION_SECRET must be at least 32 bytes when login is enabled")
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.OAuthClientSecret.Wipe()
	c.SessionSecret.Wipe()
	c.MetricsPass.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
