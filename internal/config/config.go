package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RelayConfig captures all tunable parameters for the relay process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type RelayConfig struct {
	WSAddr          string
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BackendURL     string
	BackendSecret  string
	BackendTimeout time.Duration

	MaxConnections       int
	MaxDriverConnections int
	MaxUserConnections   int

	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DispatchFanout  int

	ConnectionStaleAfter time.Duration
	LocationStaleAfter   time.Duration
	KeepaliveInterval    time.Duration
	HealthCheckInterval  time.Duration
	EvictInterval        time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LogLevel string
}

func defaultRelayConfig() RelayConfig {
	return RelayConfig{
		WSAddr:          ":8081",
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		BackendURL:     "http://localhost:3000",
		BackendTimeout: 10 * time.Second,

		MaxConnections:       2000,
		MaxDriverConnections: 1000,
		MaxUserConnections:   1000,

		DefaultRadiusKm: 5,
		MaxRadiusKm:     50,
		DispatchFanout:  10,

		ConnectionStaleAfter: 5 * time.Minute,
		LocationStaleAfter:   10 * time.Minute,
		KeepaliveInterval:    30 * time.Second,
		HealthCheckInterval:  60 * time.Second,
		EvictInterval:        time.Minute,

		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
		RetryAttempts:    5,
		RetryBaseDelay:   500 * time.Millisecond,

		RedisGeoKey: "drivers_geo",
		KafkaTopic:  "driver-locations",

		LogLevel: "info",
	}
}

func LoadRelayConfig() (RelayConfig, error) {
	cfg := defaultRelayConfig()
	var errs []error

	setStringFromEnv(&cfg.WSAddr, "WS_ADDR")
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	cfg.BackendSecret = os.Getenv("BACKEND_SHARED_SECRET")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	setIntFromEnv(&cfg.MaxConnections, "MAX_CONNECTIONS", &errs)
	setIntFromEnv(&cfg.MaxDriverConnections, "MAX_DRIVER_CONNECTIONS", &errs)
	setIntFromEnv(&cfg.MaxUserConnections, "MAX_USER_CONNECTIONS", &errs)

	setFloatFromEnv(&cfg.DefaultRadiusKm, "DEFAULT_SEARCH_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.MaxRadiusKm, "MAX_SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.DispatchFanout, "DISPATCH_FANOUT", &errs)

	setDurationFromEnv(&cfg.ConnectionStaleAfter, "CONNECTION_STALE_AFTER", &errs)
	setDurationFromEnv(&cfg.LocationStaleAfter, "LOCATION_STALE_AFTER", &errs)
	setDurationFromEnv(&cfg.KeepaliveInterval, "KEEPALIVE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.HealthCheckInterval, "HEALTH_CHECK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.EvictInterval, "EVICT_INTERVAL", &errs)

	setIntFromEnv(&cfg.BreakerThreshold, "BREAKER_FAILURE_THRESHOLD", &errs)
	setDurationFromEnv(&cfg.BreakerCooldown, "BREAKER_COOLDOWN", &errs)
	setIntFromEnv(&cfg.RetryAttempts, "RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "RETRY_BASE_DELAY", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must be > 0"))
	}
	if cfg.DispatchFanout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_FANOUT must be > 0"))
	}
	if cfg.MaxRadiusKm < cfg.DefaultRadiusKm {
		errs = append(errs, fmt.Errorf("MAX_SEARCH_RADIUS_KM must be >= DEFAULT_SEARCH_RADIUS_KM"))
	}
	if cfg.BreakerThreshold <= 0 {
		errs = append(errs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
