package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"obs-control-backend/internal/model"
)

// Store defines the interface for all database operations.
//
// The store does not lock entries between DueEntries and the status
// transition that follows; callers processing due entries must serialise
// themselves.
type Store interface {
	CreateEntry(ctx context.Context, entry *model.ScheduleEntry) (string, error)
	GetEntry(ctx context.Context, id string) (*model.ScheduleEntry, error)
	DueEntries(ctx context.Context, asOf time.Time) ([]model.ScheduleEntry, error)
	MarkExecuted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	CompleteEntry(ctx context.Context, id string, next *model.ScheduleEntry) error
	CancelEntry(ctx context.Context, id string) error
	ListUpcoming(ctx context.Context) ([]model.ScheduleEntry, error)

	AppendHistory(ctx context.Context, record *model.HistoryRecord) (int64, error)
	CloseOpenHistory(ctx context.Context, end time.Time) (*int64, error)
	RecordSceneChange(ctx context.Context, record *model.HistoryRecord) (int64, error)
	OpenHistory(ctx context.Context) (*model.HistoryRecord, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]model.HistoryRecord, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)

	DB() *gorm.DB
}

// HistoryFilter narrows ListHistory. From is inclusive, To exclusive; nil
// pointers mean "any".
type HistoryFilter struct {
	From     time.Time
	To       time.Time
	ClientID *int64
	AgencyID *int64
	MediaID  *int64
}

// ErrOpenRecordExists is wrapped when appending an open-ended history record
// while another one is still on air.
var ErrOpenRecordExists = errors.New("an open history record already exists")

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: time.Now}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateEntry validates and persists a new pending entry, returning its id.
func (s *gormStore) CreateEntry(ctx context.Context, entry *model.ScheduleEntry) (string, error) {
	if err := prepareEntry(entry, s.now()); err != nil {
		return "", wrap("create entry", err)
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return "", wrap("create entry", err)
	}
	return entry.ID, nil
}

func prepareEntry(entry *model.ScheduleEntry, now time.Time) error {
	entry.SceneName = strings.TrimSpace(entry.SceneName)
	switch {
	case entry.SceneName == "":
		return fmt.Errorf("%w: scene name is required", ErrInvalidEntry)
	case entry.ScheduledAt.IsZero():
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidEntry)
	case entry.RepeatRemaining < 0:
		return fmt.Errorf("%w: repeat count must not be negative", ErrInvalidEntry)
	}
	entry.ID = uuid.NewString()
	entry.ScheduledAt = model.Stamp(entry.ScheduledAt)
	entry.Status = model.EntryPending
	entry.FailureReason = ""
	entry.CreatedAt = model.Stamp(now)
	return nil
}

func (s *gormStore) GetEntry(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	var entry model.ScheduleEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, wrap("get entry", err)
	}
	return &entry, nil
}

// DueEntries returns pending entries scheduled at or before asOf, earliest first.
func (s *gormStore) DueEntries(ctx context.Context, asOf time.Time) ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", model.EntryPending, model.Stamp(asOf)).
		Order("scheduled_at ASC").
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, wrap("due entries", err)
	}
	return entries, nil
}

func (s *gormStore) MarkExecuted(ctx context.Context, id string) error {
	return wrap("mark executed", transition(s.db.WithContext(ctx), id, model.EntryExecuted, ""))
}

func (s *gormStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return wrap("mark failed", transition(s.db.WithContext(ctx), id, model.EntryFailed, reason))
}

// transition moves a pending entry to a terminal status. Entries never return to pending.
func transition(tx *gorm.DB, id string, to model.EntryStatus, reason string) error {
	updates := map[string]any{"status": to}
	if to == model.EntryFailed {
		updates["failure_reason"] = reason
	}
	res := tx.Model(&model.ScheduleEntry{}).
		Where("id = ? AND status = ?", id, model.EntryPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotPending)
	}
	return nil
}

// CompleteEntry marks an entry executed and, when next is non-nil, inserts the
// re-armed occurrence in the same transaction.
func (s *gormStore) CompleteEntry(ctx context.Context, id string, next *model.ScheduleEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, id, model.EntryExecuted, ""); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := prepareEntry(next, s.now()); err != nil {
			return err
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("failed to re-arm entry %s: %w", id, err)
		}
		return nil
	})
	return wrap("complete entry", err)
}

// CancelEntry deletes an entry that has not fired yet.
func (s *gormStore) CancelEntry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, model.EntryPending).
		Delete(&model.ScheduleEntry{})
	if res.Error != nil {
		return wrap("cancel entry", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("cancel entry", fmt.Errorf("entry %s: %w", id, ErrNotPending))
	}
	return nil
}

func (s *gormStore) ListUpcoming(ctx context.Context) ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	err := s.db.WithContext(ctx).
		Where("status = ?", model.EntryPending).
		Order("scheduled_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, wrap("list upcoming", err)
	}
	return entries, nil
}

// AppendHistory inserts a record as given. An open-ended record is refused
// while another one is on air; use RecordSceneChange to replace it.
func (s *gormStore) AppendHistory(ctx context.Context, record *model.HistoryRecord) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.EndTime == nil {
			var open int64
			if err := tx.Model(&model.HistoryRecord{}).Where("end_time IS NULL").Count(&open).Error; err != nil {
				return err
			}
			if open > 0 {
				return ErrOpenRecordExists
			}
		}
		return tx.Create(prepareHistory(record)).Error
	})
	if err != nil {
		return 0, wrap("append history", err)
	}
	return record.ID, nil
}

// CloseOpenHistory ends the on-air record, if any, returning its id.
func (s *gormStore) CloseOpenHistory(ctx context.Context, end time.Time) (*int64, error) {
	var closed *int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		closed, err = closeOpen(tx, end)
		return err
	})
	if err != nil {
		return nil, wrap("close open history", err)
	}
	return closed, nil
}

// RecordSceneChange closes the on-air record at record.StartTime and opens
// record in its place, atomically.
func (s *gormStore) RecordSceneChange(ctx context.Context, record *model.HistoryRecord) (int64, error) {
	record.EndTime = nil
	record.DurationSeconds = nil
	prepareHistory(record)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := closeOpen(tx, record.StartTime); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return 0, wrap("record scene change", err)
	}
	return record.ID, nil
}

func prepareHistory(record *model.HistoryRecord) *model.HistoryRecord {
	record.StartTime = model.Stamp(record.StartTime)
	if record.Status == "" {
		record.Status = model.HistoryExecuted
	}
	if record.EndTime != nil && record.DurationSeconds == nil {
		record.Close(*record.EndTime)
	}
	return record
}

// closeOpen closes every open record; normally there is at most one, but a
// crash between writes must not leave two on air.
func closeOpen(tx *gorm.DB, end time.Time) (*int64, error) {
	var open []model.HistoryRecord
	if err := tx.Where("end_time IS NULL").Order("start_time DESC").Find(&open).Error; err != nil {
		return nil, err
	}
	if len(open) > 1 {
		log.Warn().Int("count", len(open)).Msg("more than one open history record, closing all")
	}

	var latest *int64
	for i := range open {
		rec := open[i]
		rec.Close(end)
		if err := tx.Model(&model.HistoryRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]any{"end_time": *rec.EndTime, "duration_seconds": *rec.DurationSeconds}).Error; err != nil {
			return nil, fmt.Errorf("failed to close history record %d: %w", rec.ID, err)
		}
		if latest == nil {
			id := rec.ID
			latest = &id
		}
	}
	return latest, nil
}

func (s *gormStore) OpenHistory(ctx context.Context) (*model.HistoryRecord, error) {
	var rec model.HistoryRecord
	err := s.db.WithContext(ctx).Where("end_time IS NULL").Order("start_time DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("open history", err)
	}
	return &rec, nil
}

// ListHistory returns records by start time for reports, with media, client
// and agency preloaded.
func (s *gormStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]model.HistoryRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.HistoryRecord{}).Preload("Media.Client.Agency")

	if !filter.From.IsZero() {
		q = q.Where("start_time >= ?", model.Stamp(filter.From))
	}
	if !filter.To.IsZero() {
		q = q.Where("start_time < ?", model.Stamp(filter.To))
	}
	if filter.MediaID != nil {
		q = q.Where("media_id = ?", *filter.MediaID)
	}
	if filter.ClientID != nil {
		q = q.Where("media_id IN (?)",
			s.db.Model(&model.MediaAsset{}).Select("id").Where("client_id = ?", *filter.ClientID))
	}
	if filter.AgencyID != nil {
		q = q.Where("media_id IN (?)",
			s.db.Model(&model.MediaAsset{}).Select("media_assets.id").
				Joins("JOIN clients ON clients.id = media_assets.client_id").
				Where("clients.agency_id = ?", *filter.AgencyID))
	}

	var records []model.HistoryRecord
	if err := q.Order("start_time ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, wrap("list history", err)
	}
	return records, nil
}

// SaveSubscription creates or replaces a push subscription.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
	return wrap("save subscription", err)
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	return wrap("delete subscription", err)
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, wrap("get subscription", err)
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return subs, nil
}
