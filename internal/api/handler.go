// Package api exposes the bridge's HTTP surface: vehicle status backed by the
// in-memory documents, push subscription management, and the Smartcar webhook
// receiver.
package api

import (
	webpush "github.com/SherClockHolmes/webpush-go"

	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/entity"
	"smartcar-bridge/internal/store"
)

// Vehicle bundles one coordinator with its display name and entities.
type Vehicle struct {
	Name        string
	Coordinator *coordinator.Coordinator
	Entities    []*entity.Entity
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	webpush  *webpush.Options
	vehicles map[string]*Vehicle // keyed by VIN
	order    []string            // listing order
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, vehicles []*Vehicle) *Handler {
	byVIN := make(map[string]*Vehicle, len(vehicles))
	order := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		byVIN[v.Coordinator.VIN()] = v
		order = append(order, v.Coordinator.VIN())
	}
	return &Handler{
		store:    s,
		webpush:  webpushOptions,
		vehicles: byVIN,
		order:    order,
	}
}

func (h *Handler) vehicle(vin string) (*Vehicle, bool) {
	v, ok := h.vehicles[vin]
	return v, ok
}
