package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Env             string        // dev, prod
	HTTPPort        string        // default 8080
	LogLevel        string        // debug, info, warn, error
	PostgresDSN     string        // required
	DBMaxConns      int32         // pgx pool size
	RedisAddr       string        // host:port
	RedisUsername   string        // redis username
	RedisPassword   string        // redis password
	RedisPoolSize   int           // go-redis pool size
	JWTSecret       string        // HMAC secret for bearer tokens
	LockTTL         time.Duration // how long a Redis slot lock lives
	ShutdownTimeout time.Duration // graceful shutdown timeout
	WorkerInterval  time.Duration // how often the overdue worker runs

	NotifySink    string        // redis, log
	NotifyStream  string        // redis stream key for notifications
	NotifyTimeout time.Duration // upper bound for a single notification
	NotifyWorkers int
	NotifyQueue   int

	CancelCutoff     time.Duration // patients cannot cancel closer than this to the slot start
	MaxVisitDuration int           // minutes
	ScheduleTZ       string        // location used for date + slot arithmetic
	OverdueAfter     time.Duration // scheduled appointments older than this are overdue
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:              envString("APP_ENV", "dev"),
		HTTPPort:         envString("HTTP_PORT", "8080"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		DBMaxConns:       int32(envInt("DB_MAX_CONNS", 10)),
		RedisPoolSize:    envInt("REDIS_POOL_SIZE", 10),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LockTTL:          envDuration("LOCK_TTL", 5*time.Second),
		ShutdownTimeout:  envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WorkerInterval:   envDuration("WORKER_INTERVAL", time.Minute),
		NotifySink:       envString("NOTIFY_SINK", "redis"),
		NotifyStream:     envString("NOTIFY_STREAM", "notifications:appointments"),
		NotifyTimeout:    envDuration("NOTIFY_TIMEOUT", 3*time.Second),
		NotifyWorkers:    envInt("NOTIFY_WORKERS", 4),
		NotifyQueue:      envInt("NOTIFY_QUEUE", 256),
		CancelCutoff:     envDuration("CANCEL_CUTOFF", 24*time.Hour),
		MaxVisitDuration: envInt("MAX_VISIT_DURATION", 180),
		ScheduleTZ:       envString("SCHEDULE_TZ", "UTC"),
		OverdueAfter:     envDuration("OVERDUE_AFTER", 24*time.Hour),
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required")
	}
	if cfg.JWTSecret == "" && cfg.Env == "prod" {
		return Config{}, errors.New("JWT_SECRET is required in prod")
	}
	if cfg.MaxVisitDuration <= 0 {
		return Config{}, fmt.Errorf("MAX_VISIT_DURATION must be > 0, got %d", cfg.MaxVisitDuration)
	}
	if _, err := time.LoadLocation(cfg.ScheduleTZ); err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULE_TZ: %w", err)
	}
	switch cfg.NotifySink {
	case "redis", "log":
	default:
		return Config{}, fmt.Errorf("invalid NOTIFY_SINK %q (want redis or log)", cfg.NotifySink)
	}

	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opt, err := redis.ParseURL(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword = opt.Addr, opt.Username, opt.Password
	} else {
		cfg.RedisAddr = envString("REDIS_ADDR", "127.0.0.1:6379")
		cfg.RedisUsername = os.Getenv("REDIS_USERNAME")
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	return cfg, nil
}

// Location returns the schedule time zone. Load already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return n
}

// envDuration accepts Go duration syntax or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return d
}

// warnDefault goes to stderr since config loads before the logger exists.
func warnDefault(key, val string, def any) {
	fmt.Fprintf(os.Stderr, "config: ignoring %s=%q, using %v\n", key, val, def)
}
