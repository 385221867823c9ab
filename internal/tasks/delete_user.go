package tasks

import (
	"context"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"
)

// DeleteUser removes the user's own activity trail, then the user row.
// Memberships go with the row through ON DELETE CASCADE; plots the user owns
// are left for DELETE_PLOT.
func (t *Tasks) DeleteUser(ctx context.Context, run *jobs.Run, p jobs.DeleteUserPayload) error {
	activities := activitiesOfUser(p.UserID)

	return t.runSteps(ctx, run, []step{
		{"activity images", func(ctx context.Context) error {
			_, err := t.batchDelete(ctx, run, t.imagesOf(activities))
			return err
		}},
		{"activities", func(ctx context.Context) error {
			_, err := t.batchDelete(ctx, run, activities)
			return err
		}},
		{"user", func(ctx context.Context) error {
			return t.deleteRow(ctx, &farm.User{}, p.UserID)
		}},
	})
}
