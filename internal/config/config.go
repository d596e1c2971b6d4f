package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything main needs to wire the service. Values come from
// the environment, with a .env file loaded first when present.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	PaymentBaseURL string

	PaymentCallTimeout      time.Duration
	PaymentMaxAttempts      int
	PaymentBackoffBase      time.Duration
	PaymentFailureThreshold int
	PaymentCooldown         time.Duration

	StockReserveAttempts int
}

func Load() Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	return Config{
		ServiceName: getenv("SERVICE_NAME", "marketplace"),
		Env:         getenv("ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		PaymentBaseURL: getenv("PAYMENT_BASE_URL", "http://localhost:9090"),

		PaymentCallTimeout:      getduration("PAYMENT_CALL_TIMEOUT", 10*time.Second),
		PaymentMaxAttempts:      getint("PAYMENT_MAX_ATTEMPTS", 3),
		PaymentBackoffBase:      getduration("PAYMENT_BACKOFF_BASE", 100*time.Millisecond),
		PaymentFailureThreshold: getint("PAYMENT_FAILURE_THRESHOLD", 5),
		PaymentCooldown:         getduration("PAYMENT_COOLDOWN", 30*time.Second),

		StockReserveAttempts: getint("STOCK_RESERVE_ATTEMPTS", 3),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
