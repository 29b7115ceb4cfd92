// Package push fans vehicle update events out to browser push subscribers.
package push

import (
	"context"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"smartcar-bridge/internal/store"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Event is one unit of work: a vehicle whose data just changed.
type Event struct {
	VIN  string `json:"vin"`
	Name string `json:"name"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Event
	store   store.Store
	webpush *webpush.Options
	sender  Sender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st store.Store, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.With().Str("component", "push").Logger(),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case event := <-wp.jobs:
			wp.notifySubscribers(ctx, event)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch queues an update event. It never blocks the caller: when the
// queue is full the event is dropped, since a newer one supersedes it anyway.
func (wp *WorkerPool) Dispatch(event Event) {
	select {
	case wp.jobs <- event:
	default:
		wp.log.Warn().Str("vin", event.VIN).Msg("push queue full, dropping event")
	}
}

func (wp *WorkerPool) notifySubscribers(ctx context.Context, event Event) {
	subscriptions, err := wp.store.SubscriptionsForVIN(ctx, event.VIN)
	if err != nil {
		wp.log.Error().Err(err).Str("vin", event.VIN).Msg("failed to fetch subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		wp.log.Error().Err(err).Str("vin", event.VIN).Msg("failed to encode push payload")
		return
	}

	wp.log.Info().Str("vin", event.VIN).Int("subscribers", len(subscriptions)).
		Msg("sending push notifications")
	for _, sub := range subscriptions {
		wp.send(ctx, sub.Endpoint, sub.P256DH, sub.Auth, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, endpoint, p256dh, auth string, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: p256dh,
			Auth:   auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to delete expired subscription")
		}
	}
}
