package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

const DefaultDailySpec = "0 7 * * *"

// Scheduler fires once a day and only enqueues DAILY_NOTIFICATION; the
// notification work itself runs through the normal poller.
type Scheduler struct {
	Repo     *Repo
	Spec     string
	Location *time.Location
	Log      logr.Logger

	cron *cron.Cron
}

func (s *Scheduler) Start() error {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	spec := s.Spec
	if spec == "" {
		spec = DefaultDailySpec
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.EnqueueDaily(context.Background()); err != nil {
			s.Log.Error(err, "enqueue daily notification")
		}
	}); err != nil {
		return fmt.Errorf("daily schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.Log.Info("scheduler started", "spec", spec, "tz", loc.String())
	return nil
}

// Stop halts the trigger and returns a context done once a running enqueue finishes.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// EnqueueDaily is keyed by calendar day so several scheduler instances
// produce a single job.
func (s *Scheduler) EnqueueDaily(ctx context.Context) (*Job, error) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	key := fmt.Sprintf("%s:%s", TypeDailyNotification, s.Repo.now().In(loc).Format("2006-01-02"))
	j, err := s.Repo.Enqueue(ctx, EnqueueInput{
		Payload:        DailyNotificationPayload{},
		IdempotencyKey: &key,
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("daily notification enqueued", "job_id", j.ID)
	return j, nil
}
