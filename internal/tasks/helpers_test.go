package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"farmjobs/internal/dbtest"
	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	db    *gorm.DB
	repo  *jobs.Repo
	tasks *Tasks
	exec  *jobs.Executor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t, farm.Migrate, jobs.Migrate)
	repo := jobs.NewRepo(db)
	repo.Now = func() time.Time { return testNow }
	tk := &Tasks{DB: db, Now: func() time.Time { return testNow }}
	return &env{
		db:    db,
		repo:  repo,
		tasks: tk,
		exec:  &jobs.Executor{Repo: repo, Handlers: tk, Log: logr.Discard()},
	}
}

// run enqueues p and executes one attempt of it.
func (e *env) run(t *testing.T, p jobs.Payload) *jobs.Job {
	t.Helper()
	j, err := e.repo.Enqueue(t.Context(), jobs.EnqueueInput{Payload: p})
	require.NoError(t, err)
	return e.attempt(t, j.ID)
}

func (e *env) attempt(t *testing.T, id string) *jobs.Job {
	t.Helper()
	ok, err := e.repo.Claim(t.Context(), id, "test-worker")
	require.NoError(t, err)
	require.True(t, ok)
	j, err := e.repo.Get(t.Context(), id)
	require.NoError(t, err)
	_ = e.exec.Execute(t.Context(), *j)
	j, err = e.repo.Get(t.Context(), id)
	require.NoError(t, err)
	return j
}

func (e *env) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := e.db.Unscoped().Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (e *env) progress(t *testing.T, jobID string) map[string]jobs.JobProgress {
	t.Helper()
	var rows []jobs.JobProgress
	require.NoError(t, e.db.Where("job_id = ?", jobID).Find(&rows).Error)
	out := map[string]jobs.JobProgress{}
	for _, r := range rows {
		out[r.Entity] = r
	}
	return out
}

func (e *env) logs(t *testing.T, jobID string) []string {
	t.Helper()
	var rows []jobs.JobLog
	require.NoError(t, e.db.Where("job_id = ?", jobID).Order("id asc").Find(&rows).Error)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Message
	}
	return out
}

func countMatching(msgs []string, prefix, suffix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) && strings.HasSuffix(m, suffix) {
			n++
		}
	}
	return n
}

func indexOf(msgs []string, msg string) int {
	for i, m := range msgs {
		if m == msg {
			return i
		}
	}
	return -1
}

type seed struct {
	db *gorm.DB
	t  *testing.T
}

func (s seed) create(v any) {
	s.t.Helper()
	require.NoError(s.t, s.db.CreateInBatches(v, 200).Error)
}

func (s seed) user(id string, chatID *string) {
	s.create(&farm.User{ID: id, Name: id, ChatID: chatID, CreatedAt: testNow})
}

func (s seed) plot(id, owner string) {
	s.create(&farm.Plot{ID: id, OwnerID: owner, Name: id, Status: farm.PlotActive, CreatedAt: testNow})
}

// activities creates n activities on plot, spreading images over them.
func (s seed) activities(prefix, plotID, userID string, cycleID *string, n, images int) {
	s.t.Helper()
	acts := make([]farm.Activity, n)
	for i := range acts {
		acts[i] = farm.Activity{
			ID:          fmt.Sprintf("%s-act-%05d", prefix, i),
			PlotID:      plotID,
			CropCycleID: cycleID,
			UserID:      userID,
			Kind:        "WATERING",
			CreatedAt:   testNow.Add(-time.Duration(n-i) * time.Minute),
		}
	}
	if n > 0 {
		s.create(&acts)
	}

	imgs := make([]farm.ActivityImage, images)
	for i := range imgs {
		imgs[i] = farm.ActivityImage{
			ID:         fmt.Sprintf("%s-img-%05d", prefix, i),
			ActivityID: acts[i%n].ID,
			ObjectKey:  fmt.Sprintf("%s/%05d.jpg", prefix, i),
			CreatedAt:  testNow,
		}
	}
	if images > 0 {
		s.create(&imgs)
	}
}

type fakeBlobs struct {
	mu      sync.Mutex
	removed map[string]int
	calls   int
	failOn  int
}

func (f *fakeBlobs) RemoveObjects(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.failOn {
		return fmt.Errorf("minio unavailable")
	}
	if f.removed == nil {
		f.removed = map[string]int{}
	}
	for _, k := range keys {
		f.removed[k]++
	}
	return nil
}

type sentNotification struct {
	userID, chatID, text string
}

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, userID, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{userID, chatID, text})
	return nil
}

func strPtr(s string) *string { return &s }
