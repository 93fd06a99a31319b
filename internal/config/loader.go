package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
)

// Config captures environment driven configuration values for the booking service.
type Config struct {
	HTTPPort       int
	StoreDriver    string
	StoreDSN       string
	JWTSecret      string
	Location       *time.Location
	MaxOccurrences int
	Retry          persistence.RetryConfig
	RedisAddr      string
	LockTTL        time.Duration
	AMQPURL        string
	CatalogFile    string
	LogLevel       string
	LogFormat      string
}

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Load reads an optional .env file from the working directory and then
// parses the process environment. Variables already set in the environment
// win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}
	return FromEnvironment()
}

// FromEnvironment parses configuration from the process environment only.
//
// Defaults are applied for optional fields. Every missing required variable
// and every invalid value is reported in a single error.
func FromEnvironment() (Config, error) {
	cfg := Config{
		HTTPPort:       8080,
		StoreDriver:    DriverSQLite,
		StoreDSN:       "file:booking.db?_pragma=busy_timeout(5000)",
		Location:       time.UTC,
		MaxOccurrences: recurrence.DefaultMaxOccurrences,
		Retry:          persistence.DefaultRetryConfig(),
		LockTTL:        10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if v := env("BOOKING_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "BOOKING_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if v := strings.ToLower(env("BOOKING_STORE_DRIVER")); v != "" {
		switch v {
		case DriverSQLite, DriverMySQL:
			cfg.StoreDriver = v
		default:
			invalid = append(invalid, "BOOKING_STORE_DRIVER")
		}
	}
	if v := env("BOOKING_STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	} else if cfg.StoreDriver == DriverMySQL {
		missing = append(missing, "BOOKING_STORE_DSN")
	}

	if v := env("BOOKING_JWT_SECRET"); v == "" {
		missing = append(missing, "BOOKING_JWT_SECRET")
	} else {
		cfg.JWTSecret = v
	}

	if v := env("BOOKING_TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			invalid = append(invalid, "BOOKING_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	if v := env("BOOKING_MAX_OCCURRENCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, "BOOKING_MAX_OCCURRENCES")
		} else {
			cfg.MaxOccurrences = n
		}
	}

	if v := env("BOOKING_RETRY_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid = append(invalid, "BOOKING_RETRY_MAX")
		} else {
			cfg.Retry.MaxRetries = n
		}
	}
	if d, ok := duration("BOOKING_RETRY_INITIAL_DELAY", &invalid); ok {
		cfg.Retry.InitialDelay = d
	}
	if d, ok := duration("BOOKING_RETRY_MAX_DELAY", &invalid); ok {
		cfg.Retry.MaxDelay = d
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		invalid = append(invalid, "BOOKING_RETRY_MAX_DELAY")
	}

	cfg.RedisAddr = env("BOOKING_REDIS_ADDR")
	if d, ok := duration("BOOKING_LOCK_TTL", &invalid); ok {
		cfg.LockTTL = d
	}
	cfg.AMQPURL = env("BOOKING_AMQP_URL")
	cfg.CatalogFile = env("BOOKING_CATALOG_FILE")

	if v := strings.ToLower(env("BOOKING_LOG_LEVEL")); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = v
		default:
			invalid = append(invalid, "BOOKING_LOG_LEVEL")
		}
	}
	if v := strings.ToLower(env("BOOKING_LOG_FORMAT")); v != "" {
		switch v {
		case "json", "text":
			cfg.LogFormat = v
		default:
			invalid = append(invalid, "BOOKING_LOG_FORMAT")
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func duration(key string, invalid *[]string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*invalid = append(*invalid, key)
		return 0, false
	}
	return d, true
}
