package jobs

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

const recentLogLimit = 20

type StatusView struct {
	Job
	Progress []JobProgress `json:"progress"`
	Logs     []JobLog      `json:"logs"`
}

// GetStatus returns the job with all progress rows and its 20 latest logs
// (newest first).
func (r *Repo) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &StatusView{Job: *j, Progress: []JobProgress{}, Logs: []JobLog{}}

	if err := r.DB.WithContext(ctx).
		Where("job_id = ?", id).
		Order("entity asc").
		Find(&v.Progress).Error; err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if err := r.DB.WithContext(ctx).
		Where("job_id = ?", id).
		Order("id desc").
		Limit(recentLogLimit).
		Find(&v.Logs).Error; err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	return v, nil
}

type ListFilter struct {
	Status Status
	Type   Type
	Page   int
	Limit  int
}

type ListResult struct {
	Jobs  []Job `json:"jobs"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// List pages through jobs newest first.
func (r *Repo) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	q := r.DB.WithContext(ctx).Model(&Job{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	q = q.Session(&gorm.Session{})

	out := &ListResult{Jobs: []Job{}, Page: f.Page, Limit: f.Limit}
	if err := q.Count(&out.Total).Error; err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	if err := q.Order("created_at desc, id desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&out.Jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

type Stats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, row := range rows {
		switch row.Status {
		case StatusPending:
			s.Pending = row.Count
		case StatusRunning:
			s.Running = row.Count
		case StatusCompleted:
			s.Completed = row.Count
		case StatusFailed:
			s.Failed = row.Count
		}
	}
	return s, nil
}
