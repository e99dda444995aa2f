// Package config reads the service settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	StorePostgres = "postgres"
	StoreSqlite   = "sqlite"
)

type Config struct {
	Port      string
	BuildMode string
	LogLevel  zerolog.Level
	LogFile   string

	SystemKey string
	AdminKey  string

	Store         string
	DB            string
	EncryptionKey string
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration

	SMTP SMTP

	GeetestId  string
	GeetestKey string

	// RateLimit requests per minute per client, 0 disables the limiter.
	RateLimit int
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c *Config) Dev() bool {
	return c.BuildMode == "dev"
}

func (c *SMTP) Enabled() bool {
	return c.Host != ""
}

// Load reads .env files (missing ones are ignored) and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "config: .env")
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (*Config, error) {
	r := reader{}
	c := &Config{
		Port:          r.str("APP_PORT", ":8080"),
		BuildMode:     r.str("APP_BUILD_MODE", "release"),
		LogFile:       r.str("APP_LOG_FILE", "app.log"),
		SystemKey:     os.Getenv("APP_SYSTEM_KEY"),
		AdminKey:      os.Getenv("APP_ADMIN_KEY"),
		Store:         strings.ToLower(r.str("APP_STORE", StoreSqlite)),
		DB:            r.str("APP_DB", "ballotd.db"),
		EncryptionKey: os.Getenv("APP_ENCRYPTION_KEY"),
		StoreTimeout:  r.duration("APP_STORE_TIMEOUT", 5*time.Second),
		NotifyTimeout: r.duration("APP_NOTIFY_TIMEOUT", 10*time.Second),
		SMTP: SMTP{
			Host:     os.Getenv("APP_SMTP_HOST"),
			Port:     r.number("APP_SMTP_PORT", 587),
			Username: os.Getenv("APP_SMTP_USER"),
			Password: os.Getenv("APP_SMTP_PASS"),
			From:     r.str("APP_SMTP_FROM", "no-reply@localhost"),
		},
		GeetestId:  os.Getenv("APP_GEETEST_ID"),
		GeetestKey: os.Getenv("APP_GEETEST_KEY"),
		RateLimit:  r.number("APP_RATE_LIMIT", 20),
	}

	level, err := zerolog.ParseLevel(r.str("APP_LOG_LEVEL", "info"))
	if err != nil {
		r.fail("APP_LOG_LEVEL", err)
	}
	c.LogLevel = level

	if r.err != nil {
		return nil, r.err
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.EncryptionKey == "" {
		return errors.New("config: APP_ENCRYPTION_KEY is required")
	}
	if c.Store != StorePostgres && c.Store != StoreSqlite {
		return errors.Errorf("config: APP_STORE must be %s or %s, got %q", StorePostgres, StoreSqlite, c.Store)
	}
	if c.AdminKey == "" {
		return errors.New("config: APP_ADMIN_KEY is required")
	}
	return nil
}

// reader keeps the first parse error so every variable is read in one pass.
type reader struct {
	err error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = errors.Wrapf(err, "config: %s", key)
	}
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) number(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}
