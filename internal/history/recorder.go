// Package history keeps the on-air ledger in step with the program scene.
package history

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"obs-control-backend/internal/model"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

const writeTimeout = 5 * time.Second

// Recorder is the single writer of open history records. Register it on the
// controller so that every switch, manual or scheduled, closes the previous
// record and opens a new one.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

// SceneChanged implements obs.Observer.
func (r *Recorder) SceneChanged(change obs.SceneChange) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	at := change.At
	if at.IsZero() {
		at = r.now()
	}
	rec := &model.HistoryRecord{
		SceneName:  change.Scene,
		StartTime:  at,
		Status:     model.HistoryExecuted,
		MediaID:    change.MediaID,
		ScheduleID: change.ScheduleID,
	}
	id, err := r.store.RecordSceneChange(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("scene", change.Scene).Msg("failed to record scene change")
		return
	}
	log.Debug().Int64("history_id", id).Str("scene", change.Scene).Msg("history record opened")
}

// CloseSession ends the record left open by a previous session, if any.
func (r *Recorder) CloseSession(ctx context.Context) error {
	id, err := r.store.CloseOpenHistory(ctx, r.now())
	if err != nil {
		return err
	}
	if id != nil {
		log.Info().Int64("history_id", *id).Msg("closed open history record")
	}
	return nil
}
