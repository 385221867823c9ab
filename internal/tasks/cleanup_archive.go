package tasks

import (
	"context"
	"fmt"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"
)

// CleanupArchive fans out one DELETE_PLOT per plot archived longer than
// DaysOld ago. The fan-out is keyed, so rerunning it does not duplicate jobs.
func (t *Tasks) CleanupArchive(ctx context.Context, run *jobs.Run, p jobs.CleanupArchivePayload) error {
	days := p.Days()
	cutoff := t.now().AddDate(0, 0, -days)

	var plotIDs []string
	err := t.DB.WithContext(ctx).Unscoped().Model(&farm.Plot{}).
		Where("status = ? AND deleted_at IS NOT NULL AND deleted_at < ?", farm.PlotArchived, cutoff).
		Order("deleted_at ASC, id ASC").
		Pluck("id", &plotIDs).Error
	if err != nil {
		return fmt.Errorf("find archived plots: %w", err)
	}

	run.Info(ctx, fmt.Sprintf("found %d archived plots older than %d days", len(plotIDs), days), map[string]any{
		"cutoff": cutoff,
	})
	if len(plotIDs) == 0 {
		return nil
	}

	total := int64(len(plotIDs))
	var enqueued int64
	for _, id := range plotIDs {
		payload := jobs.DeletePlotPayload{PlotID: id}
		key, err := jobs.IdempotencyKeyFor(payload)
		if err != nil {
			return err
		}
		job, err := run.Enqueue(ctx, jobs.EnqueueInput{Payload: payload, IdempotencyKey: &key})
		if err != nil {
			return fmt.Errorf("enqueue delete for plot %s: %w", id, err)
		}
		enqueued++
		run.Info(ctx, "enqueued plot deletion", map[string]any{"plotId": id, "jobId": job.ID})
		if err := run.Progress(ctx, "plot", enqueued, &total); err != nil {
			return err
		}
	}
	return nil
}
