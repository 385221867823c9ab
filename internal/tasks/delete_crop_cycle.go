package tasks

import (
	"context"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"
)

func (t *Tasks) DeleteCropCycle(ctx context.Context, run *jobs.Run, p jobs.DeleteCropCyclePayload) error {
	activities := activitiesOfCropCycle(p.CropCycleID)

	return t.runSteps(ctx, run, []step{
		{"activity images", func(ctx context.Context) error {
			_, err := t.batchDelete(ctx, run, t.imagesOf(activities))
			return err
		}},
		{"activities", func(ctx context.Context) error {
			_, err := t.batchDelete(ctx, run, activities)
			return err
		}},
		{"crop cycle", func(ctx context.Context) error {
			return t.deleteRow(ctx, &farm.CropCycle{}, p.CropCycleID)
		}},
	})
}
