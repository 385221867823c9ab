package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// stubHandlers succeeds for every type unless a hook is set.
type stubHandlers struct {
	deletePlot func(ctx context.Context, run *Run, p DeletePlotPayload) error
	deleteUser func(ctx context.Context, run *Run, p DeleteUserPayload) error
}

func (s *stubHandlers) DeletePlot(ctx context.Context, run *Run, p DeletePlotPayload) error {
	if s.deletePlot != nil {
		return s.deletePlot(ctx, run, p)
	}
	return nil
}

func (s *stubHandlers) DeleteCropCycle(context.Context, *Run, DeleteCropCyclePayload) error {
	return nil
}

func (s *stubHandlers) DeleteUser(ctx context.Context, run *Run, p DeleteUserPayload) error {
	if s.deleteUser != nil {
		return s.deleteUser(ctx, run, p)
	}
	return nil
}

func (s *stubHandlers) CleanupArchive(context.Context, *Run, CleanupArchivePayload) error { return nil }
func (s *stubHandlers) RebuildCache(context.Context, *Run, RebuildCachePayload) error     { return nil }
func (s *stubHandlers) DailyNotification(context.Context, *Run, DailyNotificationPayload) error {
	return nil
}

func claimAndExecute(t *testing.T, e *Executor, id string) error {
	t.Helper()
	ok, err := e.Repo.Claim(t.Context(), id, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	return e.Execute(t.Context(), *mustGet(t, e.Repo, id))
}

func TestExecuteSuccess(t *testing.T) {
	r, _ := newTestRepo(t)
	var got DeletePlotPayload
	e := &Executor{Repo: r, Log: logr.Discard(), Handlers: &stubHandlers{
		deletePlot: func(ctx context.Context, run *Run, p DeletePlotPayload) error {
			got = p
			run.Info(ctx, "deleting activities...", nil)
			return run.Progress(ctx, "activity", 10, nil)
		},
	}}

	j, err := r.Enqueue(t.Context(), EnqueueInput{Payload: DeletePlotPayload{PlotID: "p1"}})
	require.NoError(t, err)
	require.NoError(t, claimAndExecute(t, e, j.ID))

	assert.Equal(t, DeletePlotPayload{PlotID: "p1"}, got)
	done := mustGet(t, r, j.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Nil(t, done.LockedAt)
	assert.Nil(t, done.LockedBy)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Equal(t, []string{"job started", "deleting activities...", "job completed"}, logMessages(t, r, j.ID))

	v, err := r.GetStatus(t.Context(), j.ID)
	require.NoError(t, err)
	require.Len(t, v.Progress, 1)
	assert.EqualValues(t, 10, v.Progress[0].Processed)
}

// A handler that always fails is attempted max_retry+1 times in total.
func TestExecuteRetriesThenFails(t *testing.T) {
	r, _ := newTestRepo(t)
	calls := 0
	e := &Executor{Repo: r, Log: logr.Discard(), Handlers: &stubHandlers{
		deleteUser: func(context.Context, *Run, DeleteUserPayload) error {
			calls++
			return errors.New("db timeout")
		},
	}}

	j, err := r.Enqueue(t.Context(), EnqueueInput{Payload: DeleteUserPayload{UserID: "u1"}})
	require.NoError(t, err)

	for i := 0; i < DefaultMaxRetry; i++ {
		assert.Error(t, claimAndExecute(t, e, j.ID))
		assert.Equal(t, StatusPending, mustGet(t, r, j.ID).Status)
	}
	assert.Error(t, claimAndExecute(t, e, j.ID))

	got := mustGet(t, r, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, DefaultMaxRetry, got.RetryCount)
	assert.Equal(t, "db timeout", *got.LastError)
	assert.Equal(t, DefaultMaxRetry+1, calls)

	msgs := logMessages(t, r, j.ID)
	assert.Equal(t, "job failed, retries exhausted", msgs[len(msgs)-1])
	assert.Contains(t, msgs, "job failed, will retry")
}

func TestExecutePermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload string
		want    error
	}{
		{"unknown type", Type("DELETE_FARM"), `{}`, ErrUnknownType},
		{"malformed payload", TypeDeletePlot, `{"plot":"p1"}`, ErrInvalidPayload},
		{"missing field", TypeDeleteUser, `{}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clk := newTestRepo(t)
			e := &Executor{Repo: r, Log: logr.Discard(), Handlers: &stubHandlers{}}

			j := Job{
				ID:        "job-" + string(tt.typ),
				Type:      tt.typ,
				Payload:   datatypes.JSON(tt.payload),
				Status:    StatusPending,
				MaxRetry:  DefaultMaxRetry,
				CreatedAt: clk.Now(),
				UpdatedAt: clk.Now(),
			}
			require.NoError(t, r.DB.Create(&j).Error)

			err := claimAndExecute(t, e, j.ID)
			assert.ErrorIs(t, err, tt.want)

			got := mustGet(t, r, j.ID)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, 0, got.RetryCount, "no retries for a job that cannot succeed")
			assert.Contains(t, logMessages(t, r, j.ID), "job failed permanently")
		})
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r, _ := newTestRepo(t)
	e := &Executor{Repo: r, Log: logr.Discard(), Handlers: &stubHandlers{
		deletePlot: func(context.Context, *Run, DeletePlotPayload) error {
			var m map[string]int
			m["boom"]++
			return nil
		},
	}}

	j, err := r.Enqueue(t.Context(), EnqueueInput{Payload: DeletePlotPayload{PlotID: "p1"}})
	require.NoError(t, err)

	err = claimAndExecute(t, e, j.ID)
	require.Error(t, err)
	got := mustGet(t, r, j.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, *got.LastError, "handler panic")
}

func TestRunEnqueueInheritsProvenance(t *testing.T) {
	r, _ := newTestRepo(t)
	admin := "admin-1"
	parent, err := r.Enqueue(t.Context(), EnqueueInput{Payload: CleanupArchivePayload{}, TriggeredByAdminID: &admin})
	require.NoError(t, err)

	run := NewRun(r, *parent, logr.Discard())
	child, err := run.Enqueue(t.Context(), EnqueueInput{Payload: DeletePlotPayload{PlotID: "p1"}})
	require.NoError(t, err)
	require.NotNil(t, child.TriggeredByAdminID)
	assert.Equal(t, admin, *child.TriggeredByAdminID)
}

func TestExecuteRequiresClaim(t *testing.T) {
	r, _ := newTestRepo(t)
	called := false
	e := &Executor{Repo: r, Log: logr.Discard(), Handlers: &stubHandlers{
		deletePlot: func(context.Context, *Run, DeletePlotPayload) error {
			called = true
			return nil
		},
	}}

	j, err := r.Enqueue(t.Context(), EnqueueInput{Payload: DeletePlotPayload{PlotID: "p1"}})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Execute(t.Context(), *j), ErrLeaseLost)
	assert.False(t, called)
	assert.Equal(t, StatusPending, mustGet(t, r, j.ID).Status)
}

// The job is reclaimed while the first attempt is still deleting; the first
// attempt stops at its next lease renewal and leaves the job to w2.
func TestExecuteAbandonsReclaimedJob(t *testing.T) {
	r, clk := newTestRepo(t)
	var renewErr error
	e := &Executor{Repo: r, Log: logr.Discard()}
	e.Handlers = &stubHandlers{
		deletePlot: func(ctx context.Context, run *Run, _ DeletePlotPayload) error {
			require.NoError(t, run.Touch(ctx))

			clk.Advance(DefaultLeaseTTL + time.Minute)
			_, err := r.RequeueOrphaned(ctx)
			require.NoError(t, err)
			ok, err := r.Claim(ctx, run.Job.ID, "w2")
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, r.MarkRunning(ctx, run.Job.ID, "w2"))

			renewErr = run.Touch(ctx)
			return renewErr
		},
	}

	j, err := r.Enqueue(t.Context(), EnqueueInput{Payload: DeletePlotPayload{PlotID: "p1"}})
	require.NoError(t, err)

	err = claimAndExecute(t, e, j.ID)
	assert.ErrorIs(t, renewErr, ErrLeaseLost)
	assert.ErrorIs(t, err, ErrLeaseLost)

	got := mustGet(t, r, j.ID)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "w2", *got.LockedBy)
	assert.Equal(t, 1, got.RetryCount, "only the reclaim consumed a retry")
	assert.NotContains(t, logMessages(t, r, j.ID), "job failed, will retry")
}
