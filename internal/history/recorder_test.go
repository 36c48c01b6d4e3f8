package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs-control-backend/internal/db"
	"obs-control-backend/internal/model"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

func newStore(t *testing.T) store.Store {
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return store.NewGormStore(gdb)
}

func TestRecorder_AThenB(t *testing.T) {
	s := newStore(t)
	r := NewRecorder(s)
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(90 * time.Second)
	entryID := "entry-1"

	r.SceneChanged(obs.SceneChange{Scene: "A", At: t0})
	r.SceneChanged(obs.SceneChange{Scene: "B", At: t1, ScheduleID: &entryID})

	records, err := s.ListHistory(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	a, b := records[0], records[1]
	assert.Equal(t, "A", a.SceneName)
	require.NotNil(t, a.EndTime)
	assert.True(t, a.EndTime.Equal(t1))
	require.NotNil(t, a.DurationSeconds)
	assert.Equal(t, int64(90), *a.DurationSeconds)
	assert.Nil(t, a.ScheduleID)

	assert.Equal(t, "B", b.SceneName)
	assert.Nil(t, b.EndTime)
	require.NotNil(t, b.ScheduleID)
	assert.Equal(t, entryID, *b.ScheduleID)
	assert.Equal(t, model.HistoryExecuted, b.Status)
}

func TestRecorder_CloseSession(t *testing.T) {
	s := newStore(t)
	r := NewRecorder(s)
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start.Add(time.Hour) }

	require.NoError(t, r.CloseSession(context.Background()))

	r.SceneChanged(obs.SceneChange{Scene: "A", At: start})
	require.NoError(t, r.CloseSession(context.Background()))

	open, err := s.OpenHistory(context.Background())
	require.NoError(t, err)
	assert.Nil(t, open)

	records, err := s.ListHistory(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].DurationSeconds)
	assert.Equal(t, int64(3600), *records[0].DurationSeconds)
}
