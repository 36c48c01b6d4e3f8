package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"obs-control-backend/internal/db"
	"obs-control-backend/internal/model"
)

// newTestStore opens a private in-memory SQLite store.
func newTestStore(t *testing.T) (*gormStore, *gorm.DB) {
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return &gormStore{db: gdb, now: time.Now}, gdb
}

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: conn,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestCreateEntry_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	testCases := []struct {
		name  string
		entry model.ScheduleEntry
	}{
		{name: "blank scene", entry: model.ScheduleEntry{SceneName: "  ", ScheduledAt: at}},
		{name: "missing time", entry: model.ScheduleEntry{SceneName: "Intro"}},
		{name: "negative repeat", entry: model.ScheduleEntry{SceneName: "Intro", ScheduledAt: at, RepeatRemaining: -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateEntry(ctx, &tc.entry)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConstraint))
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestCreateEntry_AssignsIDAndPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 18, 30, 15, 700, time.FixedZone("BRT", -3*3600))

	id, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: " Intro ", ScheduledAt: at, Status: model.EntryExecuted})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	got, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.SceneName)
	assert.Equal(t, model.EntryPending, got.Status)
	assert.True(t, got.ScheduledAt.Equal(at.Truncate(time.Second)))
}

func TestDueEntries_PendingOnlyInTimeOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	late, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "B", ScheduledAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	early, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "A", ScheduledAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	exact, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "C", ScheduledAt: now})
	require.NoError(t, err)
	_, err = s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "future", ScheduledAt: now.Add(time.Second)})
	require.NoError(t, err)
	done, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "done", ScheduledAt: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(ctx, done))

	due, err := s.DueEntries(ctx, now)
	require.NoError(t, err)

	var ids []string
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{early, late, exact}, ids)
}

func TestTransitions_AreOneWay(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "Intro", ScheduledAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, id, "scene not found"))

	err = s.MarkExecuted(ctx, id)
	assert.True(t, IsKind(err, KindNotFound))
	assert.ErrorIs(t, err, ErrNotPending)

	err = s.MarkFailed(ctx, id, "again")
	assert.ErrorIs(t, err, ErrNotPending)

	got, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryFailed, got.Status)
	assert.Equal(t, "scene not found", got.FailureReason)
}

func TestCompleteEntry_RearmsAtomically(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	id, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "News", ScheduledAt: at, RepeatRemaining: 3})
	require.NoError(t, err)
	entry, err := s.GetEntry(ctx, id)
	require.NoError(t, err)

	next, ok := entry.Next(time.UTC)
	require.True(t, ok)
	require.NoError(t, s.CompleteEntry(ctx, id, &next))

	var rows []model.ScheduleEntry
	require.NoError(t, gdb.Order("scheduled_at").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, model.EntryExecuted, rows[0].Status)
	assert.True(t, rows[0].ScheduledAt.Equal(at), "original scheduled time is never mutated")
	assert.Equal(t, model.EntryPending, rows[1].Status)
	assert.True(t, rows[1].ScheduledAt.Equal(at.Add(24*time.Hour)))
	assert.Equal(t, 2, rows[1].RepeatRemaining)
	require.NotNil(t, rows[1].PreviousID)
	assert.Equal(t, id, *rows[1].PreviousID)
	assert.NotEqual(t, id, rows[1].ID)
}

func TestCompleteEntry_RollsBackWhenAlreadyHandled(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "News", ScheduledAt: time.Now(), RepeatRemaining: 2})
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(ctx, id))

	entry, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	next, _ := entry.Next(time.UTC)

	err = s.CompleteEntry(ctx, id, &next)
	assert.ErrorIs(t, err, ErrNotPending)

	var count int64
	gdb.Model(&model.ScheduleEntry{}).Count(&count)
	assert.Equal(t, int64(1), count, "no duplicate occurrence may be created")
}

func TestCancelEntry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateEntry(ctx, &model.ScheduleEntry{SceneName: "Intro", ScheduledAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.CancelEntry(ctx, id))

	upcoming, err := s.ListUpcoming(ctx)
	require.NoError(t, err)
	assert.Empty(t, upcoming)

	err = s.CancelEntry(ctx, id)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestRecordSceneChange_KeepsSingleOpenRecord(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(95 * time.Second)

	firstID, err := s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "A", StartTime: t0})
	require.NoError(t, err)
	secondID, err := s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "B", StartTime: t1})
	require.NoError(t, err)

	var open int64
	gdb.Model(&model.HistoryRecord{}).Where("end_time IS NULL").Count(&open)
	assert.Equal(t, int64(1), open)

	var first model.HistoryRecord
	require.NoError(t, gdb.First(&first, firstID).Error)
	require.NotNil(t, first.EndTime)
	assert.True(t, first.EndTime.Equal(t1))
	require.NotNil(t, first.DurationSeconds)
	assert.Equal(t, int64(95), *first.DurationSeconds)

	current, err := s.OpenHistory(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, secondID, current.ID)
	assert.Equal(t, "B", current.SceneName)
}

func TestAppendHistory_RefusesSecondOpenRecord(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AppendHistory(ctx, &model.HistoryRecord{SceneName: "A", StartTime: now})
	require.NoError(t, err)

	_, err = s.AppendHistory(ctx, &model.HistoryRecord{SceneName: "B", StartTime: now})
	assert.ErrorIs(t, err, ErrOpenRecordExists)
	assert.True(t, IsKind(err, KindConstraint))

	end := now
	_, err = s.AppendHistory(ctx, &model.HistoryRecord{SceneName: "B", StartTime: now, EndTime: &end, Status: model.HistoryFailed})
	assert.NoError(t, err, "closed records can always be appended")
}

func TestCloseOpenHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	closed, err := s.CloseOpenHistory(ctx, t0)
	require.NoError(t, err)
	assert.Nil(t, closed)

	id, err := s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "A", StartTime: t0})
	require.NoError(t, err)

	closed, err = s.CloseOpenHistory(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, id, *closed)

	open, err := s.OpenHistory(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestListHistory_Filters(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	agency := model.Agency{Name: "Agency"}
	require.NoError(t, gdb.Create(&agency).Error)
	acme := model.Client{Name: "Acme", AgencyID: &agency.ID}
	direct := model.Client{Name: "Direct"}
	require.NoError(t, gdb.Create(&acme).Error)
	require.NoError(t, gdb.Create(&direct).Error)
	acmeSpot := model.MediaAsset{Name: "acme spot", Path: "/m/acme.mp4", ClientID: acme.ID}
	directSpot := model.MediaAsset{Name: "direct spot", Path: "/m/direct.mp4", ClientID: direct.ID}
	require.NoError(t, gdb.Create(&acmeSpot).Error)
	require.NoError(t, gdb.Create(&directSpot).Error)

	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "Acme", StartTime: day.Add(8 * time.Hour), MediaID: &acmeSpot.ID})
	require.NoError(t, err)
	_, err = s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "Direct", StartTime: day.Add(9 * time.Hour), MediaID: &directSpot.ID})
	require.NoError(t, err)
	_, err = s.RecordSceneChange(ctx, &model.HistoryRecord{SceneName: "Manual", StartTime: day.Add(26 * time.Hour)})
	require.NoError(t, err)

	all, err := s.ListHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	firstDay, err := s.ListHistory(ctx, HistoryFilter{From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, firstDay, 2)

	byClient, err := s.ListHistory(ctx, HistoryFilter{ClientID: &acme.ID})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, "Acme", byClient[0].SceneName)
	require.NotNil(t, byClient[0].Media)
	require.NotNil(t, byClient[0].Media.Client)
	require.NotNil(t, byClient[0].Media.Client.Agency)
	assert.Equal(t, "Agency", byClient[0].Media.Client.Agency.Name)

	byAgency, err := s.ListHistory(ctx, HistoryFilter{AgencyID: &agency.ID})
	require.NoError(t, err)
	assert.Len(t, byAgency, 1)

	byMedia, err := s.ListHistory(ctx, HistoryFilter{MediaID: &directSpot.ID})
	require.NoError(t, err)
	require.Len(t, byMedia, 1)
	assert.Equal(t, "Direct", byMedia[0].SceneName)
}

func TestSubscriptions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/1", P256DH: "k1", Auth: "a1"}))
	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/1", P256DH: "k2", Auth: "a2"}))

	sub, err := s.GetSubscription(ctx, "https://push/1")
	require.NoError(t, err)
	assert.Equal(t, "k2", sub.P256DH)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push/1"))
	_, err = s.GetSubscription(ctx, "https://push/1")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestMarkFailed_SQL(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "schedule_entries" SET`)).
		WithArgs("scene missing", model.EntryFailed, Any{}, "abc", model.EntryPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.MarkFailed(context.Background(), "abc", "scene missing"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExecuted_NoRowsIsNotPending(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "schedule_entries" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.MarkExecuted(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotPending)
	assert.True(t, IsKind(err, KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueEntries_DatabaseErrorIsIO(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "schedule_entries"`)).
		WillReturnError(assert.AnError)

	_, err := s.DueEntries(context.Background(), time.Now())
	assert.True(t, IsKind(err, KindIO))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
