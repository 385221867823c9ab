package jobs

import (
	"sync"
	"testing"
	"time"

	"farmjobs/internal/dbtest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRepo(t *testing.T) (*Repo, *fakeClock) {
	t.Helper()
	clk := newClock()
	r := NewRepo(dbtest.Open(t, Migrate))
	r.Now = clk.Now
	return r, clk
}

func mustGet(t *testing.T, r *Repo, id string) *Job {
	t.Helper()
	j, err := r.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return j
}

func logMessages(t *testing.T, r *Repo, jobID string) []string {
	t.Helper()
	var logs []JobLog
	if err := r.DB.Where("job_id = ?", jobID).Order("id asc").Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Message
	}
	return out
}
