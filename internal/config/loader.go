package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the
// reservation service.
type Config struct {
	ListenAddr      string
	SQLiteDSN       string
	RequestTimeout  time.Duration
	SessionTTL      time.Duration
	AMQPURL         string
	NotifyQueue     string
	NotifyQueueSize int
}

// Load parses configuration values from the current process environment.
// A .env file in the working directory is read first when present; real
// environment variables win over file entries.
//
// The loader applies defaults for every optional field and reports all
// invalid values in a single error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      ":5000",
		SQLiteDSN:       "file:reservation.db",
		RequestTimeout:  10 * time.Second,
		SessionTTL:      12 * time.Hour,
		NotifyQueue:     "reservation-notifications",
		NotifyQueueSize: 64,
	}

	invalid := make([]string, 0, 2)

	if addr := strings.TrimSpace(os.Getenv("RESERVATION_LISTEN_ADDR")); addr != "" {
		cfg.ListenAddr = addr
	}

	if dsn := strings.TrimSpace(os.Getenv("RESERVATION_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if timeoutValue := strings.TrimSpace(os.Getenv("RESERVATION_REQUEST_TIMEOUT")); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "RESERVATION_REQUEST_TIMEOUT")
		} else {
			cfg.RequestTimeout = timeout
		}
	}

	if ttlValue := strings.TrimSpace(os.Getenv("RESERVATION_SESSION_TTL")); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "RESERVATION_SESSION_TTL")
		} else {
			cfg.SessionTTL = ttl
		}
	}

	// An empty AMQP URL keeps notification delivery on the local logger.
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("RESERVATION_AMQP_URL"))

	if queue := strings.TrimSpace(os.Getenv("RESERVATION_NOTIFY_QUEUE")); queue != "" {
		cfg.NotifyQueue = queue
	}

	if sizeValue := strings.TrimSpace(os.Getenv("RESERVATION_NOTIFY_QUEUE_SIZE")); sizeValue != "" {
		size, err := strconv.Atoi(sizeValue)
		if err != nil || size <= 0 {
			invalid = append(invalid, "RESERVATION_NOTIFY_QUEUE_SIZE")
		} else {
			cfg.NotifyQueueSize = size
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
