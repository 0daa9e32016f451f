package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Env               string        // dev, prod
	LogLevel          string        // overrides the env default when set
	HTTPPort          string        // default 8080
	Version           string        // reported by health endpoints
	PostgresDSN       string        // required
	PostgresMaxConn   int           // pgx pool size
	RedisAddr         string        // host:port
	RedisUsername     string        // redis username
	RedisPassword     string        // redis password
	RedisDB           int           // redis db used by locks and notifications
	RedisTLS          bool          // rediss:// or REDIS_TLS=true
	RedisQueueDB      int           // redis db used by the reminder queue
	LockTTL           time.Duration // how long a Redis vet lock lives
	LockWait          time.Duration // how long a booking waits for a busy vet lock
	ShutdownTimeout   time.Duration // graceful shutdown timeout
	WorkerInterval    time.Duration // how often the no-show sweeper runs
	WorkerMetricsPort string        // port of the worker /metrics listener

	// Booking policy
	AutoConfirmBookings    bool          // book straight into confirmed
	RequireCheckInOnDay    bool          // reject check-in before the appointment day
	DefaultDurationMinutes int           // used when a booking omits duration
	MaxDurationMinutes     int           // upper bound for a single appointment
	MaxSlotRange           time.Duration // widest range listAvailableSlots accepts
	NoShowGrace            time.Duration // how long after start an unattended appointment becomes no_show

	// Reminders
	ReminderLeadTimes []time.Duration // offsets before start, e.g. 24h,1h
	ReminderChannel   string          // push, email, sms
	ReminderQueue     string          // asynq queue name
	ReminderMaxRetry  int             // asynq delivery retries

	// Outbox
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int
	OutboxBaseDelay   time.Duration

	// Calendar sync
	CalendarEnabled         bool
	GoogleCredentialsFile   string // OAuth client JSON
	GoogleTokenFile         string // stored OAuth token JSON
	CalendarTimeout         time.Duration
	CalendarMaxRetries      int
	CalendarRequestsPerSec  float64
	CalendarDefaultCalendar string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		Version:           getEnv("APP_VERSION", "dev"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		PostgresMaxConn:   getInt("POSTGRES_MAX_CONNS", 10),
		RedisQueueDB:      getInt("REDIS_QUEUE_DB", 1),
		LockTTL:           getDuration("LOCK_TTL", 5*time.Second),
		LockWait:          getDuration("LOCK_WAIT", 2*time.Second),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WorkerInterval:    getDuration("WORKER_INTERVAL", time.Minute),
		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),

		AutoConfirmBookings:    getBool("AUTO_CONFIRM_BOOKINGS", false),
		RequireCheckInOnDay:    getBool("REQUIRE_CHECKIN_ON_DAY", true),
		DefaultDurationMinutes: getInt("DEFAULT_DURATION_MINUTES", 30),
		MaxDurationMinutes:     getInt("MAX_DURATION_MINUTES", 8*60),
		MaxSlotRange:           getDuration("MAX_SLOT_RANGE", 31*24*time.Hour),
		NoShowGrace:            getDuration("NO_SHOW_GRACE", 30*time.Minute),

		ReminderLeadTimes: getDurationList("REMINDER_LEAD_TIMES", []time.Duration{24 * time.Hour, time.Hour}),
		ReminderChannel:   getEnv("REMINDER_CHANNEL", "push"),
		ReminderQueue:     getEnv("REMINDER_QUEUE", "reminders"),
		ReminderMaxRetry:  getInt("REMINDER_MAX_RETRY", 5),

		OutboxInterval:    getDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:   getInt("OUTBOX_BATCH_SIZE", 25),
		OutboxMaxAttempts: getInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxBaseDelay:   getDuration("OUTBOX_BASE_DELAY", 5*time.Second),

		CalendarEnabled:         getBool("CALENDAR_ENABLED", false),
		GoogleCredentialsFile:   getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		GoogleTokenFile:         getEnv("GOOGLE_CALENDAR_TOKEN_FILE", ""),
		CalendarTimeout:         getDuration("CALENDAR_TIMEOUT", 5*time.Second),
		CalendarMaxRetries:      getInt("CALENDAR_MAX_RETRIES", 3),
		CalendarRequestsPerSec:  getFloat("CALENDAR_RPS", 5),
		CalendarDefaultCalendar: getEnv("CALENDAR_DEFAULT_ID", "primary"),
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cfg.RedisAddr = opt.Addr
		cfg.RedisUsername = opt.Username
		cfg.RedisPassword = opt.Password
		cfg.RedisDB = opt.DB
		cfg.RedisTLS = opt.TLSConfig != nil
	} else {
		cfg.RedisAddr = getEnv("REDIS_ADDR", "127.0.0.1:6379")
		cfg.RedisUsername = getEnv("REDIS_USERNAME", "")
		cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
		cfg.RedisDB = getInt("REDIS_DB", 0)
		cfg.RedisTLS = getBool("REDIS_TLS", false)
	}


	if cfg.DefaultDurationMinutes <= 0 || cfg.DefaultDurationMinutes > cfg.MaxDurationMinutes {
		return Config{}, fmt.Errorf("DEFAULT_DURATION_MINUTES must be between 1 and %d", cfg.MaxDurationMinutes)
	}
	if cfg.CalendarEnabled && (cfg.GoogleCredentialsFile == "" || cfg.GoogleTokenFile == "") {
		return Config{}, errors.New("CALENDAR_ENABLED requires GOOGLE_CALENDAR_CREDENTIALS_FILE and GOOGLE_CALENDAR_TOKEN_FILE")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	}
	return def
}

// getDurationList parses a comma separated list such as "24h,1h".
func getDurationList(key string, def []time.Duration) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "invalid duration list for %s=%q, using default\n", key, v)
			return def
		}
		out = append(out, d)
	}
	return out
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid int for %s=%q, using default %d\n", key, v, def)
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		fmt.Fprintf(os.Stderr, "invalid float for %s=%q, using default %g\n", key, v, def)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		fmt.Fprintf(os.Stderr, "invalid bool for %s=%q, using default %t\n", key, v, def)
	}
	return def
}
