package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"smartcar-bridge/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
	VIN      string `json:"vin" binding:"required"`
}

// PutSubscription handles the creation or replacement of a subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := h.vehicle(req.VIN); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	err := h.store.UpsertSubscription(c.Request.Context(), model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
		VIN:      req.VIN,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam extracts a query value without URL-decoding it. Push
// endpoints contain encoded characters that must round-trip exactly.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscriptions handles the GET /api/vehicles/{vin}/subscriptions request.
func (h *Handler) GetSubscriptions(c *gin.Context) {
	vin := c.Param("vin")
	if _, ok := h.vehicle(vin); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	subs, err := h.store.SubscriptionsForVIN(c.Request.Context(), vin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	endpoints := make([]string, 0, len(subs))
	if raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint"); ok && raw != "" {
		for _, sub := range subs {
			if sub.Endpoint == raw {
				endpoints = append(endpoints, sub.Endpoint)
			}
		}
	} else {
		for _, sub := range subs {
			endpoints = append(endpoints, sub.Endpoint)
		}
	}

	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}
