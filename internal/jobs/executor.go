package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmjobs/internal/telemetry"

	"github.com/go-logr/logr"
)

// Handlers is the closed set of task handlers, one method per job type.
type Handlers interface {
	DeletePlot(ctx context.Context, run *Run, p DeletePlotPayload) error
	DeleteCropCycle(ctx context.Context, run *Run, p DeleteCropCyclePayload) error
	DeleteUser(ctx context.Context, run *Run, p DeleteUserPayload) error
	CleanupArchive(ctx context.Context, run *Run, p CleanupArchivePayload) error
	RebuildCache(ctx context.Context, run *Run, p RebuildCachePayload) error
	DailyNotification(ctx context.Context, run *Run, p DailyNotificationPayload) error
}

// Run is the handle a task handler gets for the job it is executing.
type Run struct {
	Job   Job
	repo  *Repo
	log   logr.Logger
	owner string
}

func NewRun(repo *Repo, job Job, log logr.Logger) *Run {
	r := &Run{Job: job, repo: repo, log: log.WithValues("job_id", job.ID, "type", job.Type)}
	if job.LockedBy != nil {
		r.owner = *job.LockedBy
	}
	return r
}

func (r *Run) Logger() logr.Logger { return r.log }

func (r *Run) Info(ctx context.Context, msg string, data any) {
	r.append(ctx, LevelInfo, msg, data)
}

func (r *Run) Warn(ctx context.Context, msg string, data any) {
	r.append(ctx, LevelWarn, msg, data)
}

func (r *Run) Error(ctx context.Context, msg string, data any) {
	r.append(ctx, LevelError, msg, data)
}

// job log writes are diagnostics; a failed write never fails the job
func (r *Run) append(ctx context.Context, level Level, msg string, data any) {
	if err := r.repo.AppendLog(ctx, r.Job.ID, level, msg, data); err != nil {
		r.log.Error(err, "append job log failed", "message", msg)
	}
}

func (r *Run) Progress(ctx context.Context, entity string, processed int64, total *int64) error {
	return r.repo.UpsertProgress(ctx, r.Job.ID, entity, processed, total)
}

// Processed is what earlier attempts of this job already recorded for entity.
func (r *Run) Processed(ctx context.Context, entity string) (int64, error) {
	return r.repo.Processed(ctx, r.Job.ID, entity)
}

// Touch renews the job's lease. It returns ErrLeaseLost once the job has
// been reclaimed, and the handler should stop.
func (r *Run) Touch(ctx context.Context) error {
	return r.repo.Touch(ctx, r.Job.ID, r.owner)
}

// Enqueue schedules follow-up work on behalf of this job, carrying its provenance.
func (r *Run) Enqueue(ctx context.Context, in EnqueueInput) (*Job, error) {
	if in.TriggeredByUserID == nil {
		in.TriggeredByUserID = r.Job.TriggeredByUserID
	}
	if in.TriggeredByAdminID == nil {
		in.TriggeredByAdminID = r.Job.TriggeredByAdminID
	}
	return r.repo.Enqueue(ctx, in)
}

type Executor struct {
	Repo     *Repo
	Handlers Handlers
	Log      logr.Logger
}

// Execute runs one claimed job to a recorded outcome. The returned error
// describes a failed attempt for the caller's logs; the job row already
// reflects it.
func (e *Executor) Execute(ctx context.Context, job Job) error {
	if job.LockedBy == nil {
		return fmt.Errorf("execute %s: not claimed: %w", job.ID, ErrLeaseLost)
	}
	owner := *job.LockedBy
	if err := e.Repo.MarkRunning(ctx, job.ID, owner); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	job.Status = StatusRunning

	run := NewRun(e.Repo, job, e.Log)
	run.Info(ctx, "job started", map[string]any{
		"attempt":  job.RetryCount + 1,
		"lockedBy": job.LockedBy,
	})

	start := time.Now()
	err := e.dispatch(ctx, run, job)
	telemetry.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if errors.Is(err, ErrLeaseLost) {
		e.Log.Info("lease lost, attempt abandoned", "job_id", job.ID, "worker_id", owner)
		return err
	}

	if err == nil {
		if err := e.Repo.MarkCompleted(ctx, job.ID, owner); err != nil {
			e.leaseLost(job, owner, err)
			return fmt.Errorf("mark completed: %w", err)
		}
		run.Info(ctx, "job completed", map[string]any{"durationMs": time.Since(start).Milliseconds()})
		telemetry.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
		return nil
	}

	msg := err.Error()
	if errors.Is(err, ErrUnknownType) || errors.Is(err, ErrInvalidPayload) {
		run.Error(ctx, "job failed permanently", map[string]any{"error": msg})
		if mErr := e.Repo.MarkFailedPermanent(ctx, job.ID, owner, msg); mErr != nil {
			e.leaseLost(job, owner, mErr)
			return fmt.Errorf("mark failed: %w (handler: %v)", mErr, err)
		}
		telemetry.JobsFailed.WithLabelValues(string(job.Type)).Inc()
		return err
	}

	st, mErr := e.Repo.MarkFailed(ctx, job.ID, owner, msg)
	if mErr != nil {
		e.leaseLost(job, owner, mErr)
		return fmt.Errorf("mark failed: %w (handler: %v)", mErr, err)
	}
	if st == StatusPending {
		run.Warn(ctx, "job failed, will retry", map[string]any{"error": msg, "retryCount": job.RetryCount + 1})
		telemetry.JobsRetried.WithLabelValues(string(job.Type)).Inc()
	} else {
		run.Error(ctx, "job failed, retries exhausted", map[string]any{"error": msg})
		telemetry.JobsFailed.WithLabelValues(string(job.Type)).Inc()
	}
	return err
}

func (e *Executor) leaseLost(job Job, owner string, err error) {
	if errors.Is(err, ErrLeaseLost) {
		e.Log.Info("job reclaimed by another worker, outcome discarded", "job_id", job.ID, "worker_id", owner)
	}
}

func (e *Executor) dispatch(ctx context.Context, run *Run, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	p, err := DecodePayload(job.Type, job.Payload)
	if err != nil {
		return err
	}

	switch job.Type {
	case TypeDeletePlot:
		return e.Handlers.DeletePlot(ctx, run, p.(DeletePlotPayload))
	case TypeDeleteCropCycle:
		return e.Handlers.DeleteCropCycle(ctx, run, p.(DeleteCropCyclePayload))
	case TypeDeleteUser:
		return e.Handlers.DeleteUser(ctx, run, p.(DeleteUserPayload))
	case TypeCleanupArchive:
		return e.Handlers.CleanupArchive(ctx, run, p.(CleanupArchivePayload))
	case TypeRebuildCache:
		return e.Handlers.RebuildCache(ctx, run, p.(RebuildCachePayload))
	case TypeDailyNotification:
		return e.Handlers.DailyNotification(ctx, run, p.(DailyNotificationPayload))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, job.Type)
	}
}
