package model

import "time"

// EntryStatus is the lifecycle state of a ScheduleEntry.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryExecuted EntryStatus = "executed"
	EntryFailed   EntryStatus = "failed"
)

// ScheduleEntry is a single time-triggered scene change.
//
// ScheduledAt is never changed after creation. A repeating entry is re-armed by
// inserting a new row (see Next) and marking this one executed.
type ScheduleEntry struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SceneName   string    `gorm:"size:256;not null" json:"scene_name"`
	ScheduledAt time.Time `gorm:"not null;index:idx_schedule_due,priority:2" json:"scheduled_at"`
	// RepeatRemaining is 0 for a one-shot entry, otherwise the number of daily
	// occurrences left including this one.
	RepeatRemaining int         `gorm:"not null;default:0" json:"repeat_remaining"`
	Notes           string      `gorm:"size:1024" json:"notes,omitempty"`
	Status          EntryStatus `gorm:"size:16;not null;default:pending;index:idx_schedule_due,priority:1" json:"status"`
	FailureReason   string      `gorm:"size:1024" json:"failure_reason,omitempty"`
	MediaID         *int64      `gorm:"index" json:"media_id,omitempty"`
	PreviousID      *string     `gorm:"size:36" json:"previous_id,omitempty"`
	CreatedAt       time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Media *MediaAsset `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

// Repeats reports whether executing this entry should produce another occurrence.
func (e ScheduleEntry) Repeats() bool {
	return e.RepeatRemaining > 1
}

// Next builds the follow-up occurrence one calendar day later in loc, carrying
// one fewer remaining occurrence. ok is false when this is the last occurrence.
func (e ScheduleEntry) Next(loc *time.Location) (next ScheduleEntry, ok bool) {
	if !e.Repeats() {
		return ScheduleEntry{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	prev := e.ID
	return ScheduleEntry{
		SceneName:       e.SceneName,
		ScheduledAt:     Stamp(e.ScheduledAt.In(loc).AddDate(0, 0, 1)),
		RepeatRemaining: e.RepeatRemaining - 1,
		Notes:           e.Notes,
		Status:          EntryPending,
		MediaID:         e.MediaID,
		PreviousID:      &prev,
	}, true
}

// Stamp normalises a timestamp before it is persisted: UTC, whole seconds.
// Poll granularity is one second, and SQLite compares timestamps as text.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
