package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"farmjobs/internal/telemetry"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrLeaseLost means the job is no longer leased to the calling worker;
	// its outcome must not be recorded.
	ErrLeaseLost = errors.New("job lease lost")
)

type Repo struct {
	DB *gorm.DB

	// LeaseTTL defaults to DefaultLeaseTTL.
	LeaseTTL time.Duration
	// DefaultMaxRetry applies when EnqueueInput.MaxRetry is zero.
	DefaultMaxRetry int

	Now func() time.Time
	Log logr.Logger
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{DB: db, LeaseTTL: DefaultLeaseTTL, DefaultMaxRetry: DefaultMaxRetry}
}

// Migrate creates the jobs, job_progress and job_logs tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&Job{}, &JobProgress{}, &JobLog{}); err != nil {
		return err
	}
	stmts := []string{
		`create index if not exists idx_jobs_claim on jobs(status, locked_at, created_at);`,
		`create index if not exists idx_job_logs_job on job_logs(job_id, id);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Repo) lease() time.Duration {
	if r.LeaseTTL > 0 {
		return r.LeaseTTL
	}
	return DefaultLeaseTTL
}

type EnqueueInput struct {
	Payload            Payload
	TriggeredByUserID  *string
	TriggeredByAdminID *string
	// IdempotencyKey, when set, folds duplicates into the existing job.
	IdempotencyKey *string
	MaxRetry       int
}

// Enqueue inserts a PENDING job. It only fails when the payload is unusable
// or the insert itself fails; execution outcomes are observed via GetStatus.
func (r *Repo) Enqueue(ctx context.Context, in EnqueueInput) (*Job, error) {
	if in.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	typ := in.Payload.JobType()
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err := in.Payload.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
	}
	b, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxRetry := in.MaxRetry
	if maxRetry <= 0 {
		maxRetry = r.DefaultMaxRetry
	}
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}

	now := r.now()
	j := Job{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		Type:               typ,
		Payload:            datatypes.JSON(b),
		Status:             StatusPending,
		RetryCount:         0,
		MaxRetry:           maxRetry,
		TriggeredByUserID:  in.TriggeredByUserID,
		TriggeredByAdminID: in.TriggeredByAdminID,
		IdempotencyKey:     in.IdempotencyKey,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if in.IdempotencyKey == nil {
		if err := r.DB.WithContext(ctx).Create(&j).Error; err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		telemetry.JobsEnqueued.WithLabelValues(string(typ)).Inc()
		return &j, nil
	}

	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&j)
	if res.Error != nil {
		return nil, fmt.Errorf("insert job: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		telemetry.JobsEnqueued.WithLabelValues(string(typ)).Inc()
		return &j, nil
	}

	// keys are released when a job fails terminally, so this only ever
	// finds a live or completed job
	var existing Job
	if err := r.DB.WithContext(ctx).Where("idempotency_key = ?", *in.IdempotencyKey).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("load job for idempotency key: %w", err)
	}
	if err := r.AppendLog(ctx, existing.ID, LevelInfo, "duplicate enqueue folded into existing job", map[string]any{
		"triggeredByUserId":  in.TriggeredByUserID,
		"triggeredByAdminId": in.TriggeredByAdminID,
	}); err != nil {
		r.Log.Error(err, "append job log failed", "job_id", existing.ID, "idempotency_key", *in.IdempotencyKey)
	}
	return &existing, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// ListClaimable returns PENDING jobs whose lock is absent or expired, oldest first.
func (r *Repo) ListClaimable(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 5
	}
	cutoff := r.now().Add(-r.lease())
	var out []Job
	err := r.DB.WithContext(ctx).
		Where("status = ? AND (locked_at IS NULL OR locked_at < ?)", StatusPending, cutoff).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Claim takes the lease on a job with a single conditional update.
// A false return means another worker won; it is not an error.
func (r *Repo) Claim(ctx context.Context, jobID, workerID string) (bool, error) {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND (locked_at IS NULL OR locked_at < ?)", jobID, StatusPending, now.Add(-r.lease())).
		Updates(map[string]any{
			"locked_at":  now,
			"locked_by":  workerID,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkRunning moves a claimed job to RUNNING and restarts its lease.
func (r *Repo) MarkRunning(ctx context.Context, jobID, workerID string) error {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", jobID, StatusPending, workerID).
		Updates(map[string]any{
			"status":     StatusRunning,
			"locked_at":  now,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark running %s: %w", jobID, ErrLeaseLost)
	}
	return nil
}

// Touch renews the lease of a RUNNING job. Long handlers call it between
// batches so the job is not reclaimed while it is still making progress.
func (r *Repo) Touch(ctx context.Context, jobID, workerID string) error {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", jobID, StatusRunning, workerID).
		Updates(map[string]any{
			"locked_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("renew lease %s: %w", jobID, ErrLeaseLost)
	}
	return nil
}

// All outcome writes below are fenced on locked_by: a worker whose job was
// reclaimed cannot overwrite the state of the worker that now holds it.

func (r *Repo) MarkCompleted(ctx context.Context, jobID, workerID string) error {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", jobID, StatusRunning, workerID).
		Updates(map[string]any{
			"status":      StatusCompleted,
			"locked_at":   nil,
			"locked_by":   nil,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark completed %s: %w", jobID, ErrLeaseLost)
	}
	return nil
}

// MarkFailed consumes one retry. While retry_count < max_retry the job goes
// back to PENDING with its lock cleared; otherwise it becomes FAILED and
// retry_count stays at max_retry. Returns the resulting status.
func (r *Repo) MarkFailed(ctx context.Context, jobID, workerID, errMsg string) (Status, error) {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND locked_by = ? AND retry_count < max_retry", jobID, workerID).
		Updates(map[string]any{
			"status":        StatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"locked_at":     nil,
			"locked_by":     nil,
			"last_error":    errMsg,
			"last_error_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return StatusPending, nil
	}

	res = r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND locked_by = ? AND retry_count >= max_retry", jobID, workerID).
		Updates(failedColumns(now, errMsg))
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", fmt.Errorf("mark failed %s: %w", jobID, ErrLeaseLost)
	}
	return StatusFailed, nil
}

// MarkFailedPermanent skips the retry path; used for jobs that can never succeed.
func (r *Repo) MarkFailedPermanent(ctx context.Context, jobID, workerID, errMsg string) error {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(failedColumns(r.now(), errMsg))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark failed %s: %w", jobID, ErrLeaseLost)
	}
	return nil
}

// failedColumns is the terminal FAILED state. The idempotency key is
// released so the same work can be enqueued again.
func failedColumns(now time.Time, errMsg string) map[string]any {
	return map[string]any{
		"status":          StatusFailed,
		"locked_at":       nil,
		"locked_by":       nil,
		"idempotency_key": nil,
		"last_error":      errMsg,
		"last_error_at":   now,
		"finished_at":     now,
		"updated_at":      now,
	}
}

// RequeueOrphaned treats RUNNING jobs with an expired lease as failed
// attempts. Off by default: enabling it turns crashed runs into retries
// (at-least-once) where the default leaves them parked.
func (r *Repo) RequeueOrphaned(ctx context.Context) (int64, error) {
	now := r.now()
	cutoff := now.Add(-r.lease())
	const msg = "lease expired while running"

	retried := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND retry_count < max_retry", StatusRunning, cutoff).
		Updates(map[string]any{
			"status":        StatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"locked_at":     nil,
			"locked_by":     nil,
			"last_error":    msg,
			"last_error_at": now,
			"updated_at":    now,
		})
	if retried.Error != nil {
		return 0, retried.Error
	}

	exhausted := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND retry_count >= max_retry", StatusRunning, cutoff).
		Updates(failedColumns(now, msg))
	if exhausted.Error != nil {
		return retried.RowsAffected, exhausted.Error
	}
	return retried.RowsAffected + exhausted.RowsAffected, nil
}

func (r *Repo) AppendLog(ctx context.Context, jobID string, level Level, message string, data any) error {
	l := JobLog{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		CreatedAt: r.now(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal log data: %w", err)
		}
		l.Data = datatypes.JSON(b)
	}
	return r.DB.WithContext(ctx).Create(&l).Error
}

// Processed returns the stored processed count for one entity, zero if none.
func (r *Repo) Processed(ctx context.Context, jobID, entity string) (int64, error) {
	var n []int64
	err := r.DB.WithContext(ctx).Model(&JobProgress{}).
		Where("job_id = ? AND entity = ?", jobID, entity).
		Limit(1).
		Pluck("processed", &n).Error
	if err != nil || len(n) == 0 {
		return 0, err
	}
	return n[0], nil
}

// UpsertProgress records processed (and optionally total) for one entity.
// The stored processed count never goes down.
func (r *Repo) UpsertProgress(ctx context.Context, jobID, entity string, processed int64, total *int64) error {
	p := JobProgress{
		JobID:     jobID,
		Entity:    entity,
		Processed: processed,
		Total:     total,
		UpdatedAt: r.now(),
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "entity"}},
		DoUpdates: clause.Assignments(map[string]any{
			"processed":  gorm.Expr("excluded.processed"),
			"total":      gorm.Expr("COALESCE(excluded.total, job_progress.total)"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "job_progress.processed <= excluded.processed"},
		}},
	}).Create(&p).Error
}
