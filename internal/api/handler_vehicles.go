package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartcar-bridge/internal/smartcar"
)

// vehicleResponse is the summary row returned by GET /api/vehicles.
type vehicleResponse struct {
	VIN      string `json:"vin"`
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	PushOnly bool   `json:"pushOnly"`
}

// GetVehicles handles the GET /api/vehicles request.
func (h *Handler) GetVehicles(c *gin.Context) {
	responses := make([]vehicleResponse, 0, len(h.order))
	for _, vin := range h.order {
		v := h.vehicles[vin]
		responses = append(responses, vehicleResponse{
			VIN:      vin,
			Name:     v.Name,
			Healthy:  v.Coordinator.Healthy(),
			PushOnly: v.Coordinator.PushOnly(),
		})
	}
	c.JSON(http.StatusOK, responses)
}

// entityStatusResponse is one entity's projected state.
type entityStatusResponse struct {
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Value      any        `json:"value"`
	Available  bool       `json:"available"`
	UnitSystem string     `json:"unitSystem,omitempty"`
	DataAge    *time.Time `json:"dataAge,omitempty"`
	FetchedAt  *time.Time `json:"fetchedAt,omitempty"`
}

// GetVehicleStatus handles the GET /api/vehicles/{vin}/status request.
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	v, ok := h.vehicle(c.Param("vin"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	responses := make([]entityStatusResponse, 0, len(v.Entities))
	for _, e := range v.Entities {
		desc := e.Description()
		responses = append(responses, entityStatusResponse{
			Key:        string(desc.Key),
			Name:       desc.Name,
			Value:      e.Value(),
			Available:  e.Available(),
			UnitSystem: e.UnitSystem(),
			DataAge:    e.DataAge(),
			FetchedAt:  e.FetchedAt(),
		})
	}
	c.JSON(http.StatusOK, responses)
}

// RefreshVehicle handles the POST /api/vehicles/{vin}/refresh request: it
// batches every entity's field and runs one update cycle now.
func (h *Handler) RefreshVehicle(c *gin.Context) {
	v, ok := h.vehicle(c.Param("vin"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	for _, e := range v.Entities {
		v.Coordinator.RequestField(e.Description().Key)
	}

	if _, err := v.Coordinator.Refresh(c.Request.Context()); err != nil {
		switch {
		case errors.Is(err, smartcar.ErrAuthenticationRequired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "update_failed"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
