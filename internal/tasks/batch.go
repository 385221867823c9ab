package tasks

import (
	"context"
	"fmt"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"
	"farmjobs/internal/telemetry"

	"gorm.io/gorm"
)

// target is one deletable table narrowed to a parent. The set of targets is
// closed: each constructor below names its table and foreign key.
type target struct {
	entity string
	model  any
	scope  func(*gorm.DB) *gorm.DB
	// purge runs before a batch of ids is deleted.
	purge func(ctx context.Context, ids []string) error
}

func byColumn(column, value string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Where(column+" = ?", value) }
}

func activitiesOfPlot(plotID string) target {
	return target{entity: "activity", model: &farm.Activity{}, scope: byColumn("plot_id", plotID)}
}

func activitiesOfCropCycle(cycleID string) target {
	return target{entity: "activity", model: &farm.Activity{}, scope: byColumn("crop_cycle_id", cycleID)}
}

func activitiesOfUser(userID string) target {
	return target{entity: "activity", model: &farm.Activity{}, scope: byColumn("user_id", userID)}
}

func (t *Tasks) imagesOf(parent target) target {
	return target{
		entity: "activity_image",
		model:  &farm.ActivityImage{},
		scope: func(db *gorm.DB) *gorm.DB {
			sub := parent.scope(t.DB.Model(parent.model)).Select("id")
			return db.Where("activity_id IN (?)", sub)
		},
		purge: t.purgeImageObjects,
	}
}

func weatherOfPlot(plotID string) target {
	return target{entity: "weather_snapshot", model: &farm.WeatherSnapshot{}, scope: byColumn("plot_id", plotID)}
}

func soilOfPlot(plotID string) target {
	return target{entity: "soil_snapshot", model: &farm.SoilSnapshot{}, scope: byColumn("plot_id", plotID)}
}

func recommendationsOfPlot(plotID string) target {
	return target{entity: "ai_recommendation", model: &farm.AIRecommendation{}, scope: byColumn("plot_id", plotID)}
}

func cropCyclesOfPlot(plotID string) target {
	return target{entity: "crop_cycle", model: &farm.CropCycle{}, scope: byColumn("plot_id", plotID)}
}

func membersOfPlot(plotID string) target {
	return target{entity: "farm_member", model: &farm.FarmMember{}, scope: byColumn("plot_id", plotID)}
}

func summaryOfPlot(plotID string) target {
	return target{entity: "plot_summary", model: &farm.PlotSummary{}, scope: byColumn("plot_id", plotID)}
}

// batchDelete removes every row of tg in batches. Each batch commits on its
// own so progress survives a later failure and a retry resumes from what is
// left. Progress carries on from what earlier attempts recorded, so the final
// count is every row this job removed. Returns the rows deleted by this call.
func (t *Tasks) batchDelete(ctx context.Context, run *jobs.Run, tg target) (int64, error) {
	db := t.DB.WithContext(ctx)

	var remaining int64
	if err := tg.scope(db.Model(tg.model)).Count(&remaining).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", tg.entity, err)
	}
	if remaining == 0 {
		return 0, nil
	}
	prior, err := run.Processed(ctx, tg.entity)
	if err != nil {
		return 0, fmt.Errorf("load %s progress: %w", tg.entity, err)
	}
	total := prior + remaining

	var deleted int64
	for {
		var ids []string
		if err := tg.scope(db.Model(tg.model)).Limit(t.batchSize()).Pluck("id", &ids).Error; err != nil {
			return deleted, fmt.Errorf("select %s batch: %w", tg.entity, err)
		}
		if len(ids) == 0 {
			break
		}

		if tg.purge != nil {
			if err := tg.purge(ctx, ids); err != nil {
				return deleted, fmt.Errorf("purge %s batch: %w", tg.entity, err)
			}
		}

		res := db.Where("id IN ?", ids).Delete(tg.model)
		if res.Error != nil {
			return deleted, fmt.Errorf("delete %s batch: %w", tg.entity, res.Error)
		}
		n := res.RowsAffected
		deleted += n
		telemetry.RowsDeleted.WithLabelValues(tg.entity).Add(float64(n))

		if err := run.Progress(ctx, tg.entity, prior+deleted, &total); err != nil {
			return deleted, fmt.Errorf("record %s progress: %w", tg.entity, err)
		}
		run.Info(ctx, fmt.Sprintf("deleted %d %s rows", n, tg.entity), map[string]any{
			"entity":  tg.entity,
			"batch":   n,
			"deleted": prior + deleted,
			"total":   total,
		})
		if err := run.Touch(ctx); err != nil {
			return deleted, err
		}

		// nothing removed means the filter will keep returning the same ids
		if n == 0 {
			break
		}
	}
	return deleted, nil
}

// bulkDelete is a single statement for tables that stay small per parent.
func (t *Tasks) bulkDelete(ctx context.Context, run *jobs.Run, tg target) (int64, error) {
	res := tg.scope(t.DB.WithContext(ctx)).Delete(tg.model)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		telemetry.RowsDeleted.WithLabelValues(tg.entity).Add(float64(res.RowsAffected))
		if err := run.Progress(ctx, tg.entity, res.RowsAffected, nil); err != nil {
			return res.RowsAffected, err
		}
	}
	return res.RowsAffected, nil
}

// deleteRow removes a parent row by id, bypassing soft delete.
func (t *Tasks) deleteRow(ctx context.Context, model any, id string) error {
	res := t.DB.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errRecordMissing
	}
	return nil
}

func (t *Tasks) purgeImageObjects(ctx context.Context, ids []string) error {
	if t.Blobs == nil {
		return nil
	}
	var keys []string
	if err := t.DB.WithContext(ctx).Model(&farm.ActivityImage{}).
		Where("id IN ? AND object_key <> ''", ids).
		Pluck("object_key", &keys).Error; err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return t.Blobs.RemoveObjects(ctx, keys)
}
