package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RebuildCache recomputes plot summaries, for one plot or for every live plot.
func (t *Tasks) RebuildCache(ctx context.Context, run *jobs.Run, p jobs.RebuildCachePayload) error {
	if p.PlotID != "" {
		if err := t.rebuildPlot(ctx, run, p.PlotID); err != nil {
			return err
		}
		one := int64(1)
		return run.Progress(ctx, "plot_summary", 1, &one)
	}

	db := t.DB.WithContext(ctx)
	var total int64
	if err := db.Model(&farm.Plot{}).Count(&total).Error; err != nil {
		return fmt.Errorf("count plots: %w", err)
	}
	run.Info(ctx, fmt.Sprintf("rebuilding %d plot summaries", total), nil)

	var done int64
	last := ""
	for {
		var ids []string
		if err := db.Model(&farm.Plot{}).Where("id > ?", last).
			Order("id ASC").Limit(t.batchSize()).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("page plots: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := t.rebuildPlot(ctx, run, id); err != nil {
				return err
			}
		}
		done += int64(len(ids))
		last = ids[len(ids)-1]
		if err := run.Progress(ctx, "plot_summary", done, &total); err != nil {
			return err
		}
		if err := run.Touch(ctx); err != nil {
			return err
		}
	}
	run.Info(ctx, fmt.Sprintf("rebuilt %d plot summaries", done), nil)
	return nil
}

func (t *Tasks) rebuildPlot(ctx context.Context, run *jobs.Run, plotID string) error {
	db := t.DB.WithContext(ctx)

	var plot farm.Plot
	err := db.Select("id").Where("id = ?", plotID).Take(&plot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// archived or gone: drop the stale summary instead
		if err := db.Where("plot_id = ?", plotID).Delete(&farm.PlotSummary{}).Error; err != nil {
			return fmt.Errorf("drop summary %s: %w", plotID, err)
		}
		run.Warn(ctx, "plot not found, summary dropped", map[string]any{"plotId": plotID})
		return t.invalidateSummaries(ctx, run, plotID)
	}
	if err != nil {
		return fmt.Errorf("load plot %s: %w", plotID, err)
	}

	s := farm.PlotSummary{PlotID: plotID, UpdatedAt: t.now()}
	if err := db.Model(&farm.Activity{}).Where("plot_id = ?", plotID).Count(&s.ActivityCount).Error; err != nil {
		return fmt.Errorf("count activities: %w", err)
	}
	if err := db.Model(&farm.CropCycle{}).Where("plot_id = ?", plotID).Count(&s.CropCycleCount).Error; err != nil {
		return fmt.Errorf("count crop cycles: %w", err)
	}

	var latest farm.Activity
	err = db.Select("created_at").Where("plot_id = ?", plotID).Order("created_at DESC").Take(&latest).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return fmt.Errorf("latest activity: %w", err)
	default:
		at := latest.CreatedAt.UTC()
		s.LastActivityAt = &at
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"activity_count", "crop_cycle_count", "last_activity_at", "updated_at"}),
	}).Create(&s).Error; err != nil {
		return fmt.Errorf("upsert summary %s: %w", plotID, err)
	}

	if t.Cache != nil {
		if err := t.Cache.PutPlotSummary(ctx, plotID, summaryView(s)); err != nil {
			run.Warn(ctx, "plot summary cache write failed", map[string]any{"plotId": plotID, "error": err.Error()})
			return err
		}
	}
	return nil
}

type plotSummaryView struct {
	PlotID         string     `json:"plotId"`
	ActivityCount  int64      `json:"activityCount"`
	CropCycleCount int64      `json:"cropCycleCount"`
	LastActivityAt *time.Time `json:"lastActivityAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func summaryView(s farm.PlotSummary) plotSummaryView {
	return plotSummaryView{
		PlotID:         s.PlotID,
		ActivityCount:  s.ActivityCount,
		CropCycleCount: s.CropCycleCount,
		LastActivityAt: s.LastActivityAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
