// Package tasks holds the job handlers. Every delete handler is an ordered
// list of steps, children before parents, built on batchDelete.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmjobs/internal/jobs"

	"gorm.io/gorm"
)

const DefaultBatchSize = 500

// BlobStore removes image objects that belong to deleted rows.
type BlobStore interface {
	RemoveObjects(ctx context.Context, keys []string) error
}

type SummaryCache interface {
	PutPlotSummary(ctx context.Context, plotID string, v any) error
	InvalidatePlotSummaries(ctx context.Context, plotIDs ...string) error
}

type Notifier interface {
	Notify(ctx context.Context, userID, chatID, text string) error
}

// Tasks implements jobs.Handlers. Blobs, Cache and Notifier are optional.
type Tasks struct {
	DB       *gorm.DB
	Blobs    BlobStore
	Cache    SummaryCache
	Notifier Notifier

	BatchSize int
	Now       func() time.Time
}

var _ jobs.Handlers = (*Tasks)(nil)

func (t *Tasks) batchSize() int {
	if t.BatchSize > 0 {
		return t.BatchSize
	}
	return DefaultBatchSize
}

func (t *Tasks) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// errRecordMissing marks a delete whose row is already gone. Steps treat it as success.
var errRecordMissing = errors.New("record to delete does not exist")

type step struct {
	name string
	run  func(ctx context.Context) error
}

func (t *Tasks) runSteps(ctx context.Context, run *jobs.Run, steps []step) error {
	for _, s := range steps {
		run.Info(ctx, "deleting "+s.name+"...", nil)
		err := s.run(ctx)
		if errors.Is(err, errRecordMissing) {
			run.Info(ctx, s.name+" already deleted", nil)
			continue
		}
		if err != nil {
			run.Error(ctx, "failed deleting "+s.name, map[string]any{"error": err.Error()})
			return fmt.Errorf("delete %s: %w", s.name, err)
		}
		run.Info(ctx, "deleted "+s.name, nil)
	}
	return nil
}
