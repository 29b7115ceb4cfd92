// Package poller runs the periodic update loop: on every tick it batches the
// enabled fields of each polled vehicle and runs one coordinator refresh.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/registry"
	"smartcar-bridge/internal/smartcar"
)

// Target is one vehicle the poller drives: its coordinator and the fields to
// request each cycle.
type Target struct {
	Coordinator *coordinator.Coordinator
	Keys        []registry.Key
}

// Service orchestrates the periodic polling of all vehicles.
type Service struct {
	interval time.Duration
	enabled  bool
	targets  []Target
	log      zerolog.Logger
}

// NewService creates a poller over the given targets.
func NewService(enabled bool, interval time.Duration, targets []Target, log zerolog.Logger) *Service {
	return &Service{
		interval: interval,
		enabled:  enabled,
		targets:  targets,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Run blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.enabled {
		s.log.Info().Msg("polling is disabled, not starting")
		return
	}
	s.log.Info().Dur("interval", s.interval).Msg("starting poll loop")

	s.PollOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("poll loop shutting down")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// PollOnce performs a single update cycle across all targets. Push-only
// vehicles are skipped; their data arrives over the webhook.
func (s *Service) PollOnce(ctx context.Context) {
	for _, target := range s.targets {
		coord := target.Coordinator
		if coord.PushOnly() {
			continue
		}

		for _, key := range target.Keys {
			coord.RequestField(key)
		}

		if _, err := coord.Refresh(ctx); err != nil {
			event := s.log.Error().Err(err).Str("vin", coord.VIN())
			if errors.Is(err, smartcar.ErrAuthenticationRequired) {
				event.Msg("poll failed, reauthentication required")
				coord.RequestReauth()
			} else {
				event.Msg("poll failed")
			}
			continue
		}
		s.log.Debug().Str("vin", coord.VIN()).Msg("poll cycle complete")
	}
}
