package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"farmjobs/internal/cache"
	"farmjobs/internal/config"
	"farmjobs/internal/db"
	"farmjobs/internal/jobs"
	"farmjobs/internal/logging"
	"farmjobs/internal/storage"
	"farmjobs/internal/tasks"

	"gorm.io/gorm"
)

// app holds what every command needs: config, logger and the database.
type app struct {
	cfg  config.Config
	db   *gorm.DB
	repo *jobs.Repo
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogDevelopment); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	repo := jobs.NewRepo(gdb)
	repo.Log = logging.WithName("jobs")
	if cfg.Worker.LeaseTTL > 0 {
		repo.LeaseTTL = cfg.Worker.LeaseTTL
	}
	if cfg.Worker.MaxRetry > 0 {
		repo.DefaultMaxRetry = cfg.Worker.MaxRetry
	}
	return &app{cfg: cfg, db: gdb, repo: repo}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// handlers builds the task handlers with whichever backing services are
// configured. The returned func releases them.
func (a *app) handlers(ctx context.Context) (*tasks.Tasks, func(), error) {
	t := &tasks.Tasks{DB: a.db}
	cleanup := func() {}

	if a.cfg.Redis.Enabled() {
		rc, err := cache.Dial(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, cleanup, err
		}
		t.Cache = rc
		t.Notifier = rc
		cleanup = func() { _ = rc.Close() }
	} else {
		logging.Info("REDIS_ADDR not set, summary cache and notifications disabled")
	}

	if a.cfg.Minio.Enabled() {
		m := a.cfg.Minio
		imgs, err := storage.NewImages(m.Endpoint, m.AccessKey, m.SecretKey, m.UseSSL, m.ImageBucket)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		if err := imgs.Ping(ctx); err != nil {
			logging.Error(err, "image bucket not reachable, deletes will retry until it is")
		}
		t.Blobs = imgs
	} else {
		logging.Info("MINIO_ENDPOINT not set, image objects are not removed")
	}
	return t, cleanup, nil
}

func (a *app) worker(h jobs.Handlers) *jobs.Worker {
	w := a.cfg.Worker
	id := w.ID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return &jobs.Worker{
		ID:              id,
		Repo:            a.repo,
		Exec:            &jobs.Executor{Repo: a.repo, Handlers: h, Log: logging.WithName("executor")},
		Log:             logging.WithName("worker"),
		Interval:        w.PollInterval,
		BatchSize:       w.BatchSize,
		Concurrency:     w.Concurrency,
		ReclaimOrphaned: w.ReclaimOrphaned,
	}
}

func (a *app) scheduler() (*jobs.Scheduler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err)
	}
	return &jobs.Scheduler{
		Repo:     a.repo,
		Spec:     a.cfg.Scheduler.DailyCron,
		Location: loc,
		Log:      logging.WithName("scheduler"),
	}, nil
}

// runBackground starts the poller and, unless disabled, the daily trigger.
// The returned func stops both and waits for in-flight work.
func (a *app) runBackground(ctx context.Context, withScheduler bool) (func(), error) {
	h, release, err := a.handlers(ctx)
	if err != nil {
		return nil, err
	}

	var sched *jobs.Scheduler
	if withScheduler {
		if sched, err = a.scheduler(); err != nil {
			release()
			return nil, err
		}
		if err := sched.Start(); err != nil {
			release()
			return nil, err
		}
	}

	w := a.worker(h)
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(workerCtx)
	}()

	return func() {
		if sched != nil {
			select {
			case <-sched.Stop().Done():
			case <-time.After(10 * time.Second):
			}
		}
		cancel()
		<-done
		release()
	}, nil
}
