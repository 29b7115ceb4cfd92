package push

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"smartcar-bridge/internal/model"
	"smartcar-bridge/internal/store"
)

// mockSender is a mock implementation of the Sender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PushSubscription{}))
	return store.NewGormStore(db)
}

func TestDispatchNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, newTestStore(t), &webpush.Options{}, zerolog.Nop())

	// No worker draining: the second dispatch hits a full queue and must
	// return instead of blocking.
	wp.Dispatch(Event{VIN: "VIN1"})
	wp.Dispatch(Event{VIN: "VIN1"})

	select {
	case event := <-wp.jobs:
		assert.Equal(t, "VIN1", event.VIN)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestWorkerSendsToSubscribers(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertSubscription(context.Background(), model.PushSubscription{
		Endpoint: "https://push.example/ep1",
		P256DH:   "p256dh",
		Auth:     "auth",
		VIN:      "VIN1",
	}))

	wp := NewWorkerPool(1, st, &webpush.Options{}, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			defer wg.Done()
			assert.Equal(t, "https://push.example/ep1", sub.Endpoint)
			assert.JSONEq(t, `{"vin":"VIN1","name":"My Car"}`, string(payload))
			return &http.Response{
				StatusCode: http.StatusCreated,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(Event{VIN: "VIN1", Name: "My Car"})
	wg.Wait()
}

func TestExpiredSubscriptionIsDeleted(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertSubscription(context.Background(), model.PushSubscription{
		Endpoint: "https://push.example/expired",
		P256DH:   "p256dh",
		Auth:     "auth",
		VIN:      "VIN1",
	}))

	wp := NewWorkerPool(1, st, &webpush.Options{}, zerolog.Nop())
	wp.sender = &mockSender{
		SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	wp.notifySubscribers(context.Background(), Event{VIN: "VIN1"})

	subs, err := st.SubscriptionsForVIN(context.Background(), "VIN1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestNoSubscribersNoSend(t *testing.T) {
	wp := NewWorkerPool(1, newTestStore(t), &webpush.Options{}, zerolog.Nop())
	wp.sender = &mockSender{
		SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			t.Fatal("send must not be called without subscribers")
			return nil, nil
		},
	}
	wp.notifySubscribers(context.Background(), Event{VIN: "VIN1"})
}
