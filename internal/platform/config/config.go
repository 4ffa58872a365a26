package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Advisory    AdvisoryConfig
	Locks       LockConfig
	Sweep       SweepConfig
	Throttle    ThrottleConfig
}

// ThrottleConfig bounds per-client request rates. RPS of zero disables the
// throttle.
type ThrottleConfig struct {
	RPS   float64
	Burst int
}

// RedisConfig holds connection settings for the shared Redis instance.
// An empty URL means Redis is not configured and in-process fallbacks apply.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds event stream settings. Empty brokers disable publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AdvisoryConfig holds settings for the market-rate advisory service.
// An empty BaseURL disables advisory lookups.
type AdvisoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LockConfig bounds how long a request waits for a negotiation lock before
// failing with a concurrency timeout.
type LockConfig struct {
	Wait time.Duration
	TTL  time.Duration
}

// SweepConfig paces the background expiry sweeps.
type SweepConfig struct {
	Interval time.Duration
	Limit    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:            envOr("RATEDESK_ADDR", ":8080"),
		JWTSigningKey:   jwtSigningKey,
		RequestTimeout:  envDuration("RATEDESK_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: envDuration("RATEDESK_SHUTDOWN_TIMEOUT", 10*time.Second),
		DatabaseURL:     os.Getenv("RATEDESK_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("RATEDESK_REDIS_URL"),
			PoolSize:     envInt("RATEDESK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("RATEDESK_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("RATEDESK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("RATEDESK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("RATEDESK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("RATEDESK_KAFKA_BROKERS"),
			Topic:   envOr("RATEDESK_KAFKA_TOPIC", "ratedesk.negotiation.events"),
		},
		Advisory: AdvisoryConfig{
			BaseURL: os.Getenv("RATEDESK_ADVISORY_URL"),
			Timeout: envDuration("RATEDESK_ADVISORY_TIMEOUT", 2*time.Second),
		},
		Locks: LockConfig{
			Wait: envDuration("RATEDESK_LOCK_WAIT", 5*time.Second),
			TTL:  envDuration("RATEDESK_LOCK_TTL", 30*time.Second),
		},
		Sweep: SweepConfig{
			Interval: envDuration("RATEDESK_SWEEP_INTERVAL", time.Minute),
			Limit:    envInt("RATEDESK_SWEEP_LIMIT", 100),
		},
		Throttle: ThrottleConfig{
			RPS:   envFloat("RATEDESK_THROTTLE_RPS", 50),
			Burst: envInt("RATEDESK_THROTTLE_BURST", 100),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
