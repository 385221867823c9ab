package jobs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType    = errors.New("unknown job type")
	ErrInvalidPayload = errors.New("invalid job payload")
)

const DefaultArchiveDaysOld = 90

// Payload is implemented by one struct per job type.
type Payload interface {
	JobType() Type
	validate() error
}

type DeletePlotPayload struct {
	PlotID string `json:"plotId"`
}

func (DeletePlotPayload) JobType() Type { return TypeDeletePlot }

func (p DeletePlotPayload) validate() error {
	if strings.TrimSpace(p.PlotID) == "" {
		return errors.New("plotId required")
	}
	return nil
}

type DeleteCropCyclePayload struct {
	CropCycleID string `json:"cropCycleId"`
}

func (DeleteCropCyclePayload) JobType() Type { return TypeDeleteCropCycle }

func (p DeleteCropCyclePayload) validate() error {
	if strings.TrimSpace(p.CropCycleID) == "" {
		return errors.New("cropCycleId required")
	}
	return nil
}

type DeleteUserPayload struct {
	UserID string `json:"userId"`
}

func (DeleteUserPayload) JobType() Type { return TypeDeleteUser }

func (p DeleteUserPayload) validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("userId required")
	}
	return nil
}

type CleanupArchivePayload struct {
	DaysOld *int `json:"daysOld,omitempty"`
}

func (CleanupArchivePayload) JobType() Type { return TypeCleanupArchive }

func (p CleanupArchivePayload) validate() error {
	if p.DaysOld != nil && *p.DaysOld < 0 {
		return errors.New("daysOld must not be negative")
	}
	return nil
}

// Days returns daysOld or the 90 day default.
func (p CleanupArchivePayload) Days() int {
	if p.DaysOld == nil {
		return DefaultArchiveDaysOld
	}
	return *p.DaysOld
}

// RebuildCachePayload with an empty PlotID rebuilds every plot.
type RebuildCachePayload struct {
	PlotID string `json:"plotId,omitempty"`
}

func (RebuildCachePayload) JobType() Type { return TypeRebuildCache }

func (RebuildCachePayload) validate() error { return nil }

type DailyNotificationPayload struct{}

func (DailyNotificationPayload) JobType() Type { return TypeDailyNotification }

func (DailyNotificationPayload) validate() error { return nil }

// DecodePayload turns the stored document into the struct for typ.
// Unknown fields are rejected.
func DecodePayload(typ Type, raw []byte) (Payload, error) {
	var p Payload
	switch typ {
	case TypeDeletePlot:
		p = &DeletePlotPayload{}
	case TypeDeleteCropCycle:
		p = &DeleteCropCyclePayload{}
	case TypeDeleteUser:
		p = &DeleteUserPayload{}
	case TypeCleanupArchive:
		p = &CleanupArchivePayload{}
	case TypeRebuildCache:
		p = &RebuildCachePayload{}
	case TypeDailyNotification:
		p = &DailyNotificationPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
	}

	// handlers receive values, not pointers
	switch v := p.(type) {
	case *DeletePlotPayload:
		return *v, nil
	case *DeleteCropCyclePayload:
		return *v, nil
	case *DeleteUserPayload:
		return *v, nil
	case *CleanupArchivePayload:
		return *v, nil
	case *RebuildCachePayload:
		return *v, nil
	case *DailyNotificationPayload:
		return *v, nil
	}
	return p, nil
}

// IdempotencyKeyFor derives a stable key from the type and payload document.
func IdempotencyKeyFor(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(string(p.JobType())+":"), b...))
	return hex.EncodeToString(sum[:]), nil
}
