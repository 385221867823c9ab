package farm

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PlotActive   = "ACTIVE"
	PlotArchived = "ARCHIVED"
)

type User struct {
	ID     string  `gorm:"primaryKey;type:text"`
	Name   string  `gorm:"type:text;not null;default:''"`
	ChatID *string `gorm:"type:text;index"` // messaging bot chat, nil when not linked

	Activities  []Activity   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Memberships []FarmMember `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"not null"`
}

// Plot is archived by setting Status and soft-deleting the row.
type Plot struct {
	ID        string         `gorm:"primaryKey;type:text"`
	OwnerID   string         `gorm:"type:text;index;not null"`
	Name      string         `gorm:"type:text;not null;default:''"`
	Status    string         `gorm:"type:text;index;not null;default:'ACTIVE'"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
	CreatedAt time.Time      `gorm:"not null"`
}

type FarmMember struct {
	ID     string `gorm:"primaryKey;type:text"`
	PlotID string `gorm:"type:text;index;not null"`
	UserID string `gorm:"type:text;index;not null"`
	Role   string `gorm:"type:text;not null;default:'MEMBER'"`
}

type CropCycle struct {
	ID        string    `gorm:"primaryKey;type:text"`
	PlotID    string    `gorm:"type:text;index;not null"`
	Crop      string    `gorm:"type:text;not null;default:''"`
	StartedAt time.Time `gorm:"not null"`
	EndedAt   *time.Time
}

type Activity struct {
	ID          string  `gorm:"primaryKey;type:text"`
	PlotID      string  `gorm:"type:text;index;not null"`
	CropCycleID *string `gorm:"type:text;index"`
	UserID      string  `gorm:"type:text;index;not null"`
	Kind        string  `gorm:"type:text;not null;default:''"`
	Note        string  `gorm:"type:text;not null;default:''"`

	Images []ActivityImage `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"index;not null"`
}

// ActivityImage rows point at an object in the image bucket.
type ActivityImage struct {
	ID         string    `gorm:"primaryKey;type:text"`
	ActivityID string    `gorm:"type:text;index;not null"`
	ObjectKey  string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

type AIRecommendation struct {
	ID        string    `gorm:"primaryKey;type:text"`
	PlotID    string    `gorm:"type:text;index;not null"`
	Body      string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AIRecommendation) TableName() string { return "ai_recommendations" }

type WeatherSnapshot struct {
	ID         string `gorm:"primaryKey;type:text"`
	PlotID     string `gorm:"type:text;index;not null"`
	Data       datatypes.JSON
	RecordedAt time.Time `gorm:"not null"`
}

type SoilSnapshot struct {
	ID         string `gorm:"primaryKey;type:text"`
	PlotID     string `gorm:"type:text;index;not null"`
	Data       datatypes.JSON
	RecordedAt time.Time `gorm:"not null"`
}

// PlotSummary is a derived row, rebuilt by REBUILD_CACHE.
type PlotSummary struct {
	PlotID         string `gorm:"primaryKey;type:text"`
	ActivityCount  int64  `gorm:"not null;default:0"`
	CropCycleCount int64  `gorm:"not null;default:0"`
	LastActivityAt *time.Time
	UpdatedAt      time.Time `gorm:"not null"`
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&User{},
		&Plot{},
		&FarmMember{},
		&CropCycle{},
		&Activity{},
		&ActivityImage{},
		&AIRecommendation{},
		&WeatherSnapshot{},
		&SoilSnapshot{},
		&PlotSummary{},
	)
}
