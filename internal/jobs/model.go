package jobs

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeDeletePlot        Type = "DELETE_PLOT"
	TypeDeleteCropCycle   Type = "DELETE_CROP_CYCLE"
	TypeDeleteUser        Type = "DELETE_USER"
	TypeCleanupArchive    Type = "CLEANUP_ARCHIVE"
	TypeRebuildCache      Type = "REBUILD_CACHE"
	TypeDailyNotification Type = "DAILY_NOTIFICATION"
)

var AllTypes = []Type{
	TypeDeletePlot,
	TypeDeleteCropCycle,
	TypeDeleteUser,
	TypeCleanupArchive,
	TypeRebuildCache,
	TypeDailyNotification,
}

func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

const (
	DefaultMaxRetry = 3
	DefaultLeaseTTL = 5 * time.Minute
)

// Job is never deleted; finished rows stay as the audit trail.
type Job struct {
	ID      string         `gorm:"primaryKey;type:text" json:"id"`
	Type    Type           `gorm:"type:text;not null;index" json:"type"`
	Payload datatypes.JSON `gorm:"not null" json:"payload"`

	Status Status `gorm:"type:text;index;not null;default:'PENDING'" json:"status"`

	LockedBy *string    `gorm:"type:text" json:"lockedBy,omitempty"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`

	RetryCount int `gorm:"not null;default:0" json:"retryCount"`
	MaxRetry   int `gorm:"not null;default:3" json:"maxRetry"`

	LastError   *string    `gorm:"type:text" json:"lastError,omitempty"`
	LastErrorAt *time.Time `json:"lastErrorAt,omitempty"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	TriggeredByUserID  *string `gorm:"type:text;index" json:"triggeredByUserId,omitempty"`
	TriggeredByAdminID *string `gorm:"type:text;index" json:"triggeredByAdminId,omitempty"`

	IdempotencyKey *string `gorm:"type:text;uniqueIndex" json:"idempotencyKey,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// JobProgress is upserted on (job_id, entity) while a batch run is in flight.
type JobProgress struct {
	ID        uint64    `gorm:"primaryKey" json:"-"`
	JobID     string    `gorm:"type:text;not null;uniqueIndex:uq_job_progress_job_entity,priority:1" json:"jobId"`
	Entity    string    `gorm:"type:text;not null;uniqueIndex:uq_job_progress_job_entity,priority:2" json:"entity"`
	Processed int64     `gorm:"not null;default:0" json:"processed"`
	Total     *int64    `json:"total,omitempty"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (JobProgress) TableName() string { return "job_progress" }

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// JobLog is append-only.
type JobLog struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	JobID     string         `gorm:"type:text;not null;index" json:"jobId"`
	Level     Level          `gorm:"type:text;not null" json:"level"`
	Message   string         `gorm:"type:text;not null" json:"message"`
	Data      datatypes.JSON `json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"createdAt"`
}
