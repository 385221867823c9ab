package tasks

import (
	"fmt"
	"testing"
	"time"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archivePlot(t *testing.T, e *env, id string, ago time.Duration) {
	t.Helper()
	seed{db: e.db, t: t}.plot(id, "owner")
	require.NoError(t, e.db.Model(&farm.Plot{}).Where("id = ?", id).Updates(map[string]any{
		"status":     farm.PlotArchived,
		"deleted_at": testNow.Add(-ago),
	}).Error)
}

func deletePlotJobs(t *testing.T, e *env) []jobs.Job {
	t.Helper()
	var out []jobs.Job
	require.NoError(t, e.db.Where("type = ?", jobs.TypeDeletePlot).Order("created_at, id").Find(&out).Error)
	return out
}

func TestCleanupArchiveEnqueuesOldPlots(t *testing.T) {
	e := newEnv(t)
	day := 24 * time.Hour
	for i := 0; i < 5; i++ {
		archivePlot(t, e, fmt.Sprintf("old-%d", i), 120*day)
	}
	archivePlot(t, e, "recent-0", 10*day)
	archivePlot(t, e, "recent-1", 10*day)
	seed{db: e.db, t: t}.plot("active", "owner")

	admin := "admin-1"
	cleanup, err := e.repo.Enqueue(t.Context(), jobs.EnqueueInput{Payload: jobs.CleanupArchivePayload{}, TriggeredByAdminID: &admin})
	require.NoError(t, err)
	got := e.attempt(t, cleanup.ID)
	require.Equal(t, jobs.StatusCompleted, got.Status)

	enqueued := deletePlotJobs(t, e)
	require.Len(t, enqueued, 5)
	plots := map[string]bool{}
	for _, j := range enqueued {
		p, err := jobs.DecodePayload(j.Type, j.Payload)
		require.NoError(t, err)
		plots[p.(jobs.DeletePlotPayload).PlotID] = true
		assert.Equal(t, jobs.StatusPending, j.Status)
		require.NotNil(t, j.TriggeredByAdminID)
		assert.Equal(t, admin, *j.TriggeredByAdminID)
	}
	for i := 0; i < 5; i++ {
		assert.True(t, plots[fmt.Sprintf("old-%d", i)])
	}

	prog := e.progress(t, cleanup.ID)
	assert.EqualValues(t, 5, prog["plot"].Processed)

	// a second cleanup run folds into the same delete jobs
	again := e.run(t, jobs.CleanupArchivePayload{})
	require.Equal(t, jobs.StatusCompleted, again.Status)
	assert.Len(t, deletePlotJobs(t, e), 5)

	// executing one of them hard-deletes the archived row
	done := e.attempt(t, enqueued[0].ID)
	require.Equal(t, jobs.StatusCompleted, done.Status)
	assert.EqualValues(t, 6, e.count(t, &farm.Plot{}, "status = ?", farm.PlotArchived))
}

func TestCleanupArchiveCustomDays(t *testing.T) {
	e := newEnv(t)
	archivePlot(t, e, "p1", 20*24*time.Hour)
	archivePlot(t, e, "p2", 5*24*time.Hour)

	days := 7
	j := e.run(t, jobs.CleanupArchivePayload{DaysOld: &days})
	require.Equal(t, jobs.StatusCompleted, j.Status)
	assert.Len(t, deletePlotJobs(t, e), 1)
}

func TestCleanupArchiveNothingToDo(t *testing.T) {
	e := newEnv(t)
	j := e.run(t, jobs.CleanupArchivePayload{})
	require.Equal(t, jobs.StatusCompleted, j.Status)
	assert.Empty(t, deletePlotJobs(t, e))
	assert.Empty(t, e.progress(t, j.ID))
}

// A plot whose delete job failed for good is picked up again by the next cleanup.
func TestCleanupArchiveRequeuesFailedDelete(t *testing.T) {
	e := newEnv(t)
	archivePlot(t, e, "p1", 120*24*time.Hour)

	require.Equal(t, jobs.StatusCompleted, e.run(t, jobs.CleanupArchivePayload{}).Status)
	first := deletePlotJobs(t, e)
	require.Len(t, first, 1)

	ok, err := e.repo.Claim(t.Context(), first[0].ID, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.repo.MarkFailedPermanent(t.Context(), first[0].ID, "w1", "storage offline"))

	require.Equal(t, jobs.StatusCompleted, e.run(t, jobs.CleanupArchivePayload{}).Status)
	all := deletePlotJobs(t, e)
	require.Len(t, all, 2)
	assert.Equal(t, jobs.StatusFailed, all[0].Status)
	assert.Equal(t, jobs.StatusPending, all[1].Status)

	// a third run folds into the live retry instead of adding another
	require.Equal(t, jobs.StatusCompleted, e.run(t, jobs.CleanupArchivePayload{}).Status)
	assert.Len(t, deletePlotJobs(t, e), 2)

	done := e.attempt(t, all[1].ID)
	require.Equal(t, jobs.StatusCompleted, done.Status)
	assert.Zero(t, e.count(t, &farm.Plot{}, "id = ?", "p1"))
}
