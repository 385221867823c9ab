package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogDevelopment bool

	Worker    Worker
	Scheduler Scheduler
	Redis     Redis
	Minio     Minio
}

type Worker struct {
	ID              string
	PollInterval    time.Duration
	BatchSize       int
	Concurrency     int
	LeaseTTL        time.Duration
	MaxRetry        int
	ReclaimOrphaned bool
}

type Scheduler struct {
	DailyCron string
	Timezone  string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

func (r Redis) Enabled() bool { return r.Addr != "" }

type Minio struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	ImageBucket string
}

func (m Minio) Enabled() bool { return m.Endpoint != "" }

var ErrMissingJWTSecret = errors.New("missing env: JWT_SECRET")

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("LOG_DEVELOPMENT", false)

	v.SetDefault("WORKER_POLL_INTERVAL", "10s")
	v.SetDefault("WORKER_BATCH_SIZE", 5)
	v.SetDefault("WORKER_CONCURRENCY", 1)
	v.SetDefault("LEASE_TTL", "5m")
	v.SetDefault("MAX_RETRY", 3)
	v.SetDefault("RECLAIM_ORPHANED_RUNNING", false)

	v.SetDefault("DAILY_NOTIFICATION_CRON", "0 7 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("MINIO_IMAGE_BUCKET", "activity-images")
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		DatabaseURL:          strings.TrimSpace(v.GetString("DATABASE_URL")),
		CORSAllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
		JWTSecret:            strings.TrimSpace(v.GetString("JWT_SECRET")),
		LogDevelopment:       v.GetBool("LOG_DEVELOPMENT"),
		Worker: Worker{
			ID:              v.GetString("WORKER_ID"),
			PollInterval:    v.GetDuration("WORKER_POLL_INTERVAL"),
			BatchSize:       v.GetInt("WORKER_BATCH_SIZE"),
			Concurrency:     v.GetInt("WORKER_CONCURRENCY"),
			LeaseTTL:        v.GetDuration("LEASE_TTL"),
			MaxRetry:        v.GetInt("MAX_RETRY"),
			ReclaimOrphaned: v.GetBool("RECLAIM_ORPHANED_RUNNING"),
		},
		Scheduler: Scheduler{
			DailyCron: v.GetString("DAILY_NOTIFICATION_CRON"),
			Timezone:  v.GetString("SCHEDULER_TIMEZONE"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Minio: Minio{
			Endpoint:    v.GetString("MINIO_ENDPOINT"),
			AccessKey:   v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:   v.GetString("MINIO_SECRET_KEY"),
			UseSSL:      v.GetBool("MINIO_USE_SSL"),
			ImageBucket: v.GetString("MINIO_IMAGE_BUCKET"),
		},
	}

	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("missing env: DATABASE_URL")
	}
	if cfg.Worker.PollInterval <= 0 {
		return cfg, fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.BatchSize <= 0 {
		return cfg, fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.MaxRetry < 0 {
		return cfg, fmt.Errorf("MAX_RETRY must not be negative, got %d", cfg.Worker.MaxRetry)
	}
	return cfg, nil
}

// RequireJWT is checked by commands that serve the admin API.
func (c Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}
