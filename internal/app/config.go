package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var (
	// ErrDatabaseConfigConflict is returned when DATABASE_URL and the POSTGRES_*
	// variables point at different databases.
	ErrDatabaseConfigConflict = errors.New("DATABASE_URL and POSTGRES_* settings disagree")
	// ErrDatabaseNotConfigured is returned when neither source is set.
	ErrDatabaseNotConfigured = errors.New("database connection is not configured: set DATABASE_URL or POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
)

// Config holds runtime configuration for the authority service.
type Config struct {
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`

	TablesPrefix  string `envconfig:"AUTHZ_TABLES_PREFIX" default:"authz_"`
	ForbiddenPath string `envconfig:"AUTHZ_FORBIDDEN_PATH" default:"/forbidden"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, errors.New("rate limit must not be negative")
	}
	return &cfg, nil
}

// DSN resolves the Postgres connection string. DATABASE_URL and the
// POSTGRES_* variables may both be set only when they describe the same
// database.
func (c *Config) DSN() (string, error) {
	fromParts := c.postgresURL()
	switch {
	case c.DatabaseURL != "" && fromParts != "":
		if !sameDatabase(c.DatabaseURL, fromParts) {
			return "", ErrDatabaseConfigConflict
		}
		return c.DatabaseURL, nil
	case c.DatabaseURL != "":
		return c.DatabaseURL, nil
	case fromParts != "":
		return fromParts, nil
	default:
		return "", ErrDatabaseNotConfigured
	}
}

func (c *Config) postgresURL() string {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" {
		return ""
	}
	host := c.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := c.PostgresPort
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// sameDatabase compares user, password, host, port and database name.
// Query parameters such as sslmode are ignored.
func sameDatabase(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	pa, _ := ua.User.Password()
	pb, _ := ub.User.Password()
	return ua.User.Username() == ub.User.Username() &&
		pa == pb &&
		hostPort(ua) == hostPort(ub) &&
		ua.Path == ub.Path
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("%s:%s", u.Hostname(), port)
}
