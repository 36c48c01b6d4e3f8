package model

import "time"

// HistoryStatus records whether an aired scene change succeeded.
type HistoryStatus string

const (
	HistoryExecuted HistoryStatus = "executed"
	HistoryFailed   HistoryStatus = "failed"
)

// HistoryRecord is one on-air interval. The record with a nil EndTime is the
// scene currently on air.
type HistoryRecord struct {
	ID              int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	SceneName       string        `gorm:"size:256;not null" json:"scene_name"`
	StartTime       time.Time     `gorm:"not null;index" json:"start_time"`
	EndTime         *time.Time    `gorm:"index" json:"end_time,omitempty"`
	DurationSeconds *int64        `json:"duration_seconds,omitempty"`
	Status          HistoryStatus `gorm:"size:16;not null;default:executed" json:"status"`
	MediaID         *int64        `gorm:"index" json:"media_id,omitempty"`
	ScheduleID      *string       `gorm:"size:36;index" json:"schedule_id,omitempty"`

	Media *MediaAsset `gorm:"constraint:OnDelete:SET NULL" json:"media,omitempty"`
}

// Close sets the end of the interval and derives its duration.
func (h *HistoryRecord) Close(end time.Time) {
	end = Stamp(end)
	if end.Before(h.StartTime) {
		end = h.StartTime
	}
	d := int64(end.Sub(h.StartTime) / time.Second)
	h.EndTime = &end
	h.DurationSeconds = &d
}
