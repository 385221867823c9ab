package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"farmjobs/internal/telemetry"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultBatchSize    = 5
)

type Worker struct {
	ID   string
	Repo *Repo
	Exec *Executor
	Log  logr.Logger

	Interval  time.Duration
	BatchSize int
	// Concurrency > 1 runs the claimed jobs of one tick in parallel.
	Concurrency int
	// ReclaimOrphaned requeues RUNNING jobs whose lease expired at the start of each tick.
	ReclaimOrphaned bool

	busy atomic.Bool
	wg   sync.WaitGroup
}

func (w *Worker) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return DefaultPollInterval
}

func (w *Worker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

// Run polls until ctx is cancelled, then waits for the in-flight tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	w.Log.Info("worker started", "worker_id", w.ID, "interval", w.interval().String(), "batch", w.batchSize())
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.Log.Info("worker stopped", "worker_id", w.ID)
			return
		case <-ticker.C:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.Tick(ctx)
			}()
		}
	}
}

// Tick processes one batch. It returns false without doing anything when
// the previous tick is still running.
func (w *Worker) Tick(ctx context.Context) bool {
	if !w.busy.CompareAndSwap(false, true) {
		telemetry.TicksSkipped.Inc()
		w.Log.V(1).Info("tick skipped, previous tick still running")
		return false
	}
	defer w.busy.Store(false)

	if w.ReclaimOrphaned {
		n, err := w.Repo.RequeueOrphaned(ctx)
		if err != nil {
			w.Log.Error(err, "requeue orphaned jobs")
		} else if n > 0 {
			w.Log.Info("requeued orphaned jobs", "count", n)
		}
	}

	jobs, err := w.Repo.ListClaimable(ctx, w.batchSize())
	if err != nil {
		w.Log.Error(err, "list claimable jobs")
		return true
	}
	if len(jobs) == 0 {
		return true
	}

	if w.Concurrency <= 1 {
		for _, j := range jobs {
			w.process(ctx, j)
		}
		return true
	}

	var g errgroup.Group
	g.SetLimit(w.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			w.process(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

func (w *Worker) process(ctx context.Context, job Job) {
	ok, err := w.Repo.Claim(ctx, job.ID, w.ID)
	if err != nil {
		w.Log.Error(err, "claim job", "job_id", job.ID)
		return
	}
	if !ok {
		telemetry.ClaimsLost.Inc()
		w.Log.V(1).Info("claim lost", "job_id", job.ID)
		return
	}

	id := w.ID
	job.LockedBy = &id

	// in-flight work is not interrupted by shutdown
	if err := w.Exec.Execute(context.WithoutCancel(ctx), job); err != nil {
		w.Log.Error(err, "job attempt failed", "job_id", job.ID, "type", job.Type)
	}
}
