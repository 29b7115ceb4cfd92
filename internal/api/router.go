package api

import (
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"smartcar-bridge/internal/mw"
	"smartcar-bridge/internal/store"
	"smartcar-bridge/internal/webhook"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, webpushOptions *webpush.Options, vehicles []*Vehicle, processor *webhook.Processor) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, vehicles)

	// Rate limit: 10 requests per second with a burst of 5.
	rateLimiter := mw.RateLimiter(rate.Limit(10), 5)

	// Cache: status responses change at most once per update cycle.
	cacheStore := cache.New(30*time.Second, 5*time.Minute)
	caching := mw.Cache(cacheStore, 30*time.Second)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vehicles", handler.GetVehicles)
		api.GET("/vehicles/:vin/status", caching, handler.GetVehicleStatus)
		api.POST("/vehicles/:vin/refresh", handler.RefreshVehicle)
		api.GET("/vehicles/:vin/subscriptions", handler.GetSubscriptions)

		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	// The webhook authenticates with its own signature; no rate limit or
	// cache in front of it.
	r.POST("/webhook/:id", processor.Handler())

	return r
}
