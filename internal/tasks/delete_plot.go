package tasks

import (
	"context"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"
)

// DeletePlot removes a plot and everything hanging off it.
func (t *Tasks) DeletePlot(ctx context.Context, run *jobs.Run, p jobs.DeletePlotPayload) error {
	id := p.PlotID
	activities := activitiesOfPlot(id)

	batched := func(tg target) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := t.batchDelete(ctx, run, tg)
			return err
		}
	}
	bulk := func(tg target) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := t.bulkDelete(ctx, run, tg)
			return err
		}
	}

	return t.runSteps(ctx, run, []step{
		{"activity images", batched(t.imagesOf(activities))},
		{"activities", batched(activities)},
		{"AI recommendations", batched(recommendationsOfPlot(id))},
		{"crop cycles", bulk(cropCyclesOfPlot(id))},
		{"weather snapshots", batched(weatherOfPlot(id))},
		{"soil snapshots", batched(soilOfPlot(id))},
		{"plot summary", func(ctx context.Context) error {
			if _, err := t.bulkDelete(ctx, run, summaryOfPlot(id)); err != nil {
				return err
			}
			return t.invalidateSummaries(ctx, run, id)
		}},
		{"farm members", bulk(membersOfPlot(id))},
		{"plot", func(ctx context.Context) error {
			return t.deleteRow(ctx, &farm.Plot{}, id)
		}},
	})
}

func (t *Tasks) invalidateSummaries(ctx context.Context, run *jobs.Run, plotIDs ...string) error {
	if t.Cache == nil || len(plotIDs) == 0 {
		return nil
	}
	if err := t.Cache.InvalidatePlotSummaries(ctx, plotIDs...); err != nil {
		run.Warn(ctx, "plot summary cache invalidation failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}
