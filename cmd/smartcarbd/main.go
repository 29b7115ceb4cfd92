package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"smartcar-bridge/config"
	"smartcar-bridge/internal/api"
	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/db"
	"smartcar-bridge/internal/entity"
	"smartcar-bridge/internal/model"
	"smartcar-bridge/internal/poller"
	"smartcar-bridge/internal/push"
	"smartcar-bridge/internal/registry"
	"smartcar-bridge/internal/smartcar"
	"smartcar-bridge/internal/store"
	"smartcar-bridge/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Web push is optional: without VAPID keys the bridge still serves its
	// API and webhook, it just cannot notify browsers.
	var webpushOptions *webpush.Options
	var workerPool *push.WorkerPool
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool = push.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger)
		workerPool.Start(ctx)
	} else {
		logger.Warn().Msg("VAPID keys not configured, web push notifications disabled")
	}

	vehicles := buildVehicles(cfg, workerPool, logger)
	if len(vehicles) == 0 {
		logger.Fatal().Msg("no vehicles configured")
	}

	restoreSnapshots(ctx, appStore, vehicles, logger)

	coordinators := make([]*coordinator.Coordinator, 0, len(vehicles))
	targets := make([]poller.Target, 0, len(vehicles))
	for _, v := range vehicles {
		coordinators = append(coordinators, v.Coordinator)

		keys := make([]registry.Key, 0, len(v.Entities))
		for _, e := range v.Entities {
			keys = append(keys, e.Description().Key)
		}
		targets = append(targets, poller.Target{Coordinator: v.Coordinator, Keys: keys})
	}

	pollSvc := poller.NewService(cfg.Polling.Enabled, cfg.Polling.Interval, targets, logger)
	go pollSvc.Run(ctx)

	processor := webhook.NewProcessor(cfg.Webhook.ApplicationManagementToken, coordinators, logger)
	router := api.NewRouter(appStore, webpushOptions, vehicles, processor)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	saveSnapshots(shutdownCtx, appStore, vehicles, logger)
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// buildVehicles wires one coordinator plus its scope-satisfied entities per
// configured vehicle.
func buildVehicles(cfg *config.Config, workerPool *push.WorkerPool, logger zerolog.Logger) []*api.Vehicle {
	vehicles := make([]*api.Vehicle, 0, len(cfg.Vehicles))

	for _, vc := range cfg.Vehicles {
		token := vc.AccessToken
		if token == "" {
			token = cfg.Smartcar.AccessToken
		}
		client := smartcar.NewClient(cfg.Smartcar.BaseURL, smartcar.StaticTokenSource(token), logger)

		scopes := make([]registry.Scope, 0, len(vc.GrantedScopes))
		for _, s := range vc.GrantedScopes {
			scopes = append(scopes, registry.Scope(s))
		}

		var entities []*entity.Entity
		name := vc.Name
		if name == "" {
			name = vc.VIN
		}
		vin := vc.VIN

		hooks := coordinator.Hooks{
			EnabledKeys: func() []registry.Key {
				keys := make([]registry.Key, 0, len(entities))
				for _, e := range entities {
					keys = append(keys, e.Description().Key)
				}
				return keys
			},
			RequestReauth: func() {
				logger.Error().Str("vin", vin).
					Msg("upstream rejected credentials, vehicle access must be reauthorized")
			},
		}
		if workerPool != nil {
			hooks.OnPushUpdate = func(coordinator.Document) {
				workerPool.Dispatch(push.Event{VIN: vin, Name: name})
			}
		}

		coord := coordinator.New(logger, client, coordinator.Config{
			VehicleID:       vc.ID,
			VIN:             vc.VIN,
			GrantedScopes:   scopes,
			PushOnly:        vc.PushOnly,
			PollingDisabled: !cfg.Polling.Enabled,
			Hooks:           hooks,
		})

		requested := make(map[string]bool, len(vc.EnabledEntities))
		for _, key := range vc.EnabledEntities {
			requested[key] = true
		}

		for _, desc := range entity.Descriptions() {
			if len(requested) > 0 && !requested[string(desc.Key)] {
				continue
			}
			if !coord.IsScopeSatisfied(desc.Key, true) {
				continue
			}
			entities = append(entities, entity.New(coord, desc, logger))
		}
		logger.Info().Str("vin", vc.VIN).Int("entities", len(entities)).Msg("vehicle configured")

		vehicles = append(vehicles, &api.Vehicle{
			Name:        name,
			Coordinator: coord,
			Entities:    entities,
		})
	}

	return vehicles
}

// restoreSnapshots injects each vehicle's persisted last-known values. The
// store hands every snapshot out exactly once.
func restoreSnapshots(ctx context.Context, st store.Store, vehicles []*api.Vehicle, logger zerolog.Logger) {
	for _, v := range vehicles {
		vin := v.Coordinator.VIN()
		records, err := st.TakeSnapshots(ctx, vin)
		if err != nil {
			logger.Error().Err(err).Str("vin", vin).Msg("failed to load restore snapshots")
			continue
		}
		if len(records) == 0 {
			continue
		}

		byKey := make(map[string]model.RestoreSnapshot, len(records))
		for _, rec := range records {
			byKey[rec.EntityKey] = rec
		}

		restored := 0
		for _, e := range v.Entities {
			rec, ok := byKey[string(e.Description().Key)]
			if !ok {
				continue
			}
			snap, err := store.DecodeSnapshot(rec)
			if err != nil {
				logger.Warn().Err(err).Str("vin", vin).Msg("skipping undecodable snapshot")
				continue
			}
			if e.Restore(snap) {
				restored++
			}
		}
		logger.Info().Str("vin", vin).Int("restored", restored).Msg("restore snapshots applied")
	}
}

// saveSnapshots persists every entity's last-known state for the next start.
func saveSnapshots(ctx context.Context, st store.Store, vehicles []*api.Vehicle, logger zerolog.Logger) {
	for _, v := range vehicles {
		vin := v.Coordinator.VIN()

		var records []model.RestoreSnapshot
		for _, e := range v.Entities {
			rec, ok, err := store.EncodeSnapshot(vin, e.Description().Key, e.Snapshot())
			if err != nil {
				logger.Warn().Err(err).Str("vin", vin).Msg("skipping unencodable snapshot")
				continue
			}
			if ok {
				records = append(records, rec)
			}
		}

		if err := st.SaveSnapshots(ctx, records); err != nil {
			logger.Error().Err(err).Str("vin", vin).Msg("failed to persist snapshots")
			continue
		}
		logger.Info().Str("vin", vin).Int("snapshots", len(records)).Msg("snapshots persisted")
	}
}
