// Package scheduler fires due schedule entries against the switcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"obs-control-backend/config"
	"obs-control-backend/internal/metrics"
	"obs-control-backend/internal/model"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

// Switcher performs scene switches; *obs.Controller satisfies it.
type Switcher interface {
	SwitchScene(ctx context.Context, name string, opts ...obs.SwitchOption) error
}

// Notifier is told about entries that ended in the failed state.
type Notifier interface {
	EntryFailed(entry model.ScheduleEntry, reason string)
}

// TickResult summarises one tick.
type TickResult struct {
	Due      int
	Executed int
	Rearmed  int
	Failed   int
	Deferred int
}

// Loop is the periodic schedule driver. Ticks never overlap: TickOnce holds
// a mutex for its whole run and Run re-arms its timer only after a tick ends.
type Loop struct {
	enabled  bool
	interval time.Duration
	loc      *time.Location

	store    store.Store
	switcher Switcher
	clock    Clock
	notifier Notifier

	mu sync.Mutex
	// unmarked holds entries that aired but could not be marked executed.
	// They are skipped by later ticks until MarkExecuted goes through.
	unmarked map[string]struct{}
}

// Option configures a Loop.
type Option func(*Loop)

func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(l *Loop) { l.notifier = n }
}

// NewLoop creates a loop. Daily repeats are computed in cfg.Timezone so an
// entry keeps its wall-clock time across DST changes.
func NewLoop(cfg config.SchedulerConfig, s store.Store, sw Switcher, opts ...Option) (*Loop, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tz, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	l := &Loop{
		enabled:  cfg.Enabled,
		interval: interval,
		loc:      loc,
		store:    s,
		switcher: sw,
		clock:    RealClock{},
		unmarked: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Location is the zone repeats are re-armed in.
func (l *Loop) Location() *time.Location {
	return l.loc
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if !l.enabled {
		log.Info().Msg("scheduler is disabled, not starting")
		return
	}
	log.Info().Dur("interval", l.interval).Str("timezone", l.loc.String()).Msg("starting scheduler")

	l.tick(ctx)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler shutting down")
			return
		case <-timer.C:
			l.tick(ctx)
			timer.Reset(l.interval)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	res, err := l.TickOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	if res.Due > 0 {
		log.Info().
			Int("due", res.Due).Int("executed", res.Executed).Int("rearmed", res.Rearmed).
			Int("failed", res.Failed).Int("deferred", res.Deferred).
			Msg("scheduler tick")
	}
}

// TickOnce processes every entry due now, earliest first. A retryable switch
// failure leaves that entry and all later ones pending for the next tick.
func (l *Loop) TickOnce(ctx context.Context) (TickResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timer := prometheus.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()
	metrics.SchedulerTicks.Inc()

	var res TickResult
	l.retryUnmarked(ctx)

	now := l.clock.Now()
	due, err := l.store.DueEntries(ctx, now)
	if err != nil {
		return res, err
	}
	due = l.skipUnmarked(due)
	res.Due = len(due)

	for i, entry := range due {
		if ctx.Err() != nil {
			l.deferEntries(&res, len(due)-i)
			break
		}

		err := l.switcher.SwitchScene(ctx, entry.SceneName, obs.WithSchedule(entry.ID, entry.MediaID))
		metrics.ObserveSwitch(metrics.TriggerScheduled, err)
		if err == nil {
			l.complete(ctx, entry, &res)
			continue
		}

		var se *obs.SwitchError
		if errors.As(err, &se) && se.Retryable() {
			log.Warn().Err(err).Str("entry_id", entry.ID).Str("scene", entry.SceneName).
				Int("pending", len(due)-i).Msg("switcher unavailable, leaving due entries pending")
			l.deferEntries(&res, len(due)-i)
			break
		}
		l.fail(ctx, entry, err.Error(), &res, false)
	}
	return res, nil
}

func (l *Loop) deferEntries(res *TickResult, n int) {
	res.Deferred += n
	metrics.ScheduleEntries.WithLabelValues("deferred").Add(float64(n))
}

// complete marks a switched entry executed and re-arms it when it repeats.
func (l *Loop) complete(ctx context.Context, entry model.ScheduleEntry, res *TickResult) {
	var next *model.ScheduleEntry
	if n, ok := entry.Next(l.loc); ok {
		next = &n
	}

	err := l.store.CompleteEntry(ctx, entry.ID, next)
	if err == nil {
		res.Executed++
		metrics.ScheduleEntries.WithLabelValues("executed").Inc()
		if next != nil {
			res.Rearmed++
			metrics.ScheduleEntries.WithLabelValues("rearmed").Inc()
			log.Info().Str("entry_id", entry.ID).Str("next_id", next.ID).
				Time("next_at", next.ScheduledAt).Int("remaining", next.RepeatRemaining).
				Msg("repeating entry re-armed")
		}
		return
	}

	if errors.Is(err, store.ErrNotPending) {
		// cancelled while the switch was in flight
		log.Warn().Str("entry_id", entry.ID).Msg("entry left pending state during switch")
		return
	}

	if next != nil {
		l.fail(ctx, entry, fmt.Sprintf("re-arm failed: %v", err), res, true)
		return
	}

	// The scene is on air; the entry must not fire again.
	log.Error().Err(err).Str("entry_id", entry.ID).Msg("entry aired but could not be marked executed")
	l.unmarked[entry.ID] = struct{}{}
}

func (l *Loop) retryUnmarked(ctx context.Context) {
	for id := range l.unmarked {
		err := l.store.MarkExecuted(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotPending) {
			log.Warn().Err(err).Str("entry_id", id).Msg("still cannot mark aired entry executed")
			continue
		}
		delete(l.unmarked, id)
		if err == nil {
			metrics.ScheduleEntries.WithLabelValues("executed").Inc()
		}
	}
}

func (l *Loop) skipUnmarked(due []model.ScheduleEntry) []model.ScheduleEntry {
	if len(l.unmarked) == 0 {
		return due
	}
	kept := due[:0]
	for _, e := range due {
		if _, ok := l.unmarked[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	return kept
}

// fail records a terminal failure: status, a closed failed history record, and a notice.
// When the scene aired, the recorder already holds its history, so no failed
// record is added.
func (l *Loop) fail(ctx context.Context, entry model.ScheduleEntry, reason string, res *TickResult, aired bool) {
	log.Error().Str("entry_id", entry.ID).Str("scene", entry.SceneName).Str("reason", reason).Msg("schedule entry failed")

	if err := l.store.MarkFailed(ctx, entry.ID, reason); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to mark entry failed")
		return
	}
	res.Failed++
	metrics.ScheduleEntries.WithLabelValues("failed").Inc()

	if !aired {
		l.appendFailed(ctx, entry)
	}

	if l.notifier != nil {
		l.notifier.EntryFailed(entry, reason)
	}
}

func (l *Loop) appendFailed(ctx context.Context, entry model.ScheduleEntry) {
	at := l.clock.Now()
	id := entry.ID
	rec := &model.HistoryRecord{
		SceneName:  entry.SceneName,
		StartTime:  at,
		EndTime:    &at,
		Status:     model.HistoryFailed,
		MediaID:    entry.MediaID,
		ScheduleID: &id,
	}
	if _, err := l.store.AppendHistory(ctx, rec); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to append failed history record")
	}
}
