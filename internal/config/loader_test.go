package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var bookingVariables = []string{
	"BOOKING_HTTP_PORT",
	"BOOKING_STORE_DRIVER",
	"BOOKING_STORE_DSN",
	"BOOKING_JWT_SECRET",
	"BOOKING_TIMEZONE",
	"BOOKING_MAX_OCCURRENCES",
	"BOOKING_RETRY_MAX",
	"BOOKING_RETRY_INITIAL_DELAY",
	"BOOKING_RETRY_MAX_DELAY",
	"BOOKING_REDIS_ADDR",
	"BOOKING_LOCK_TTL",
	"BOOKING_AMQP_URL",
	"BOOKING_CATALOG_FILE",
	"BOOKING_LOG_LEVEL",
	"BOOKING_LOG_FORMAT",
}

// clearEnvironment unsets every variable for the duration of the test.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, key := range bookingVariables {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("BOOKING_JWT_SECRET", "super-secret")

		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment returned error: %v", err)
		}
		if cfg.HTTPPort != 8080 || cfg.StoreDriver != DriverSQLite || !strings.HasPrefix(cfg.StoreDSN, "file:booking.db") {
			t.Fatalf("unexpected defaults %+v", cfg)
		}
		if cfg.Location != time.UTC || cfg.MaxOccurrences != 500 || cfg.LockTTL != 10*time.Second {
			t.Fatalf("unexpected defaults %+v", cfg)
		}
		if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialDelay != 100*time.Millisecond || cfg.Retry.MaxDelay != 5*time.Second {
			t.Fatalf("unexpected retry defaults %+v", cfg.Retry)
		}
		if cfg.RedisAddr != "" || cfg.AMQPURL != "" || cfg.LogLevel != "info" || cfg.LogFormat != "json" {
			t.Fatalf("optional integrations should be disabled by default: %+v", cfg)
		}
	})

	t.Run("reads every variable", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("BOOKING_JWT_SECRET", "s")
		t.Setenv("BOOKING_HTTP_PORT", "9090")
		t.Setenv("BOOKING_STORE_DRIVER", "MySQL")
		t.Setenv("BOOKING_STORE_DSN", "booking:pw@tcp(db:3306)/booking")
		t.Setenv("BOOKING_TIMEZONE", "Asia/Tokyo")
		t.Setenv("BOOKING_MAX_OCCURRENCES", "50")
		t.Setenv("BOOKING_RETRY_MAX", "0")
		t.Setenv("BOOKING_RETRY_INITIAL_DELAY", "10ms")
		t.Setenv("BOOKING_RETRY_MAX_DELAY", "1s")
		t.Setenv("BOOKING_REDIS_ADDR", "redis:6379")
		t.Setenv("BOOKING_LOCK_TTL", "3s")
		t.Setenv("BOOKING_AMQP_URL", "amqp://guest:guest@mq:5672/")
		t.Setenv("BOOKING_CATALOG_FILE", "/etc/booking/catalog.yaml")
		t.Setenv("BOOKING_LOG_LEVEL", "debug")
		t.Setenv("BOOKING_LOG_FORMAT", "text")

		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 || cfg.StoreDriver != DriverMySQL || cfg.Location.String() != "Asia/Tokyo" || cfg.MaxOccurrences != 50 {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if cfg.Retry.MaxRetries != 0 || cfg.Retry.InitialDelay != 10*time.Millisecond || cfg.Retry.MaxDelay != time.Second {
			t.Fatalf("unexpected retry config %+v", cfg.Retry)
		}
		if cfg.RedisAddr != "redis:6379" || cfg.LockTTL != 3*time.Second || cfg.AMQPURL == "" || cfg.CatalogFile == "" {
			t.Fatalf("unexpected integration config %+v", cfg)
		}
		if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
			t.Fatalf("unexpected logging config %+v", cfg)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("BOOKING_STORE_DRIVER", "mysql")

		_, err := FromEnvironment()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required environment variables are not set: BOOKING_STORE_DSN, BOOKING_JWT_SECRET"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("BOOKING_JWT_SECRET", "s")
		t.Setenv("BOOKING_HTTP_PORT", "http")
		t.Setenv("BOOKING_STORE_DRIVER", "postgres")
		t.Setenv("BOOKING_TIMEZONE", "Mars/Olympus")
		t.Setenv("BOOKING_LOCK_TTL", "-1s")
		t.Setenv("BOOKING_LOG_FORMAT", "xml")

		_, err := FromEnvironment()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"BOOKING_HTTP_PORT", "BOOKING_STORE_DRIVER", "BOOKING_TIMEZONE", "BOOKING_LOCK_TTL", "BOOKING_LOG_FORMAT"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("rejects a max delay below the initial delay", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("BOOKING_JWT_SECRET", "s")
		t.Setenv("BOOKING_RETRY_INITIAL_DELAY", "2s")
		t.Setenv("BOOKING_RETRY_MAX_DELAY", "1s")

		if _, err := FromEnvironment(); err == nil || !strings.Contains(err.Error(), "BOOKING_RETRY_MAX_DELAY") {
			t.Fatalf("expected BOOKING_RETRY_MAX_DELAY to be rejected, got %v", err)
		}
	})
}
