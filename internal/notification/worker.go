package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"obs-control-backend/config"
	"obs-control-backend/internal/metrics"
	"obs-control-backend/internal/model"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Notice is one message fanned out to every operator subscription.
type Notice struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Notice
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg config.WorkerPoolConfig, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	size := cfg.Size
	if size <= 0 {
		size = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Notice, queue), // Buffered channel
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("push worker started")
	for {
		select {
		case n := <-wp.jobs:
			wp.broadcast(ctx, n)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("push worker shutting down")
			return
		}
	}
}

// Dispatch queues a notice, waiting for room in the queue.
func (wp *WorkerPool) Dispatch(n Notice) {
	wp.jobs <- n
}

// TryDispatch queues a notice without blocking and reports whether it was queued.
func (wp *WorkerPool) TryDispatch(n Notice) bool {
	select {
	case wp.jobs <- n:
		return true
	default:
		metrics.NoticesDropped.Inc()
		log.Warn().Str("title", n.Title).Msg("push queue full, dropping notice")
		return false
	}
}

// SceneChanged implements obs.Observer.
func (wp *WorkerPool) SceneChanged(change obs.SceneChange) {
	body := fmt.Sprintf("Scene %q is on air", change.Scene)
	if change.ScheduleID != nil {
		body += " (scheduled)"
	}
	wp.TryDispatch(Notice{Title: "On air", Body: body, Tag: "program-scene"})
}

// EntryFailed implements scheduler.Notifier.
func (wp *WorkerPool) EntryFailed(entry model.ScheduleEntry, reason string) {
	wp.TryDispatch(Notice{
		Title: "Scheduled switch failed",
		Body:  fmt.Sprintf("%q at %s: %s", entry.SceneName, entry.ScheduledAt.Format("2006-01-02 15:04"), reason),
		Tag:   "schedule-" + entry.ID,
	})
}

// broadcast sends n to every stored subscription.
func (wp *WorkerPool) broadcast(ctx context.Context, n Notice) {
	subscriptions, err := wp.store.ListSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error fetching push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode notice")
		return
	}

	log.Debug().Int("subscriptions", len(subscriptions)).Str("title", n.Title).Msg("sending push notices")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("error sending notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
