// Package coordinator implements the per-vehicle update engine: it decides
// which endpoints to poll based on entity interest, issues one batched
// request per cycle, merges poll responses and webhook signals into the one
// document it owns, and tracks per-field freshness metadata. Entities only
// ever read the document; all writes go through the coordinator.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartcar-bridge/internal/keypath"
	"smartcar-bridge/internal/registry"
	"smartcar-bridge/internal/smartcar"
)

// VehicleAPI is the outbound poll contract, satisfied by *smartcar.Client.
type VehicleAPI interface {
	Batch(ctx context.Context, vehicleID string, endpoints []string) ([]smartcar.BatchResult, error)
}

// Hooks are the host collaborators the coordinator calls back into. Any hook
// may be nil.
type Hooks struct {
	// EnabledKeys enumerates the entity keys currently registered and enabled
	// for this vehicle; used to auto-populate an empty batch request set.
	EnabledKeys func() []registry.Key

	// OnPushUpdate is the host's push-update channel, invoked once per
	// webhook message that integrated at least one signal.
	OnPushUpdate func(Document)

	// RequestReauth asks the host to begin reauthorization.
	RequestReauth func()
}

// Config carries the per-vehicle construction parameters.
type Config struct {
	VehicleID string
	VIN       string

	// GrantedScopes is the session's granted-scopes set.
	GrantedScopes []registry.Scope

	// PollingDisabled suppresses auto-population of the batch request set
	// (host preference).
	PollingDisabled bool

	// PushOnly marks installations with an application management token
	// configured: webhook delivery replaces pull traffic.
	PushOnly bool

	Hooks Hooks
}

// Coordinator owns one vehicle's document. One instance per vehicle.
type Coordinator struct {
	log       zerolog.Logger
	api       VehicleAPI
	vehicleID string
	vin       string
	scopes    map[registry.Scope]bool
	cfg       Config

	// refreshMu serializes refresh cycles; mu guards batch, data and healthy.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	batch     map[registry.Key]struct{}
	data      Document
	healthy   bool
}

// New creates a coordinator. The document starts empty and healthy; the first
// failed refresh marks it unhealthy.
func New(log zerolog.Logger, api VehicleAPI, cfg Config) *Coordinator {
	scopes := make(map[registry.Scope]bool, len(cfg.GrantedScopes))
	for _, scope := range cfg.GrantedScopes {
		scopes[scope] = true
	}

	return &Coordinator{
		log:       log.With().Str("component", "coordinator").Str("vin", cfg.VIN).Logger(),
		api:       api,
		vehicleID: cfg.VehicleID,
		vin:       cfg.VIN,
		scopes:    scopes,
		cfg:       cfg,
		batch:     make(map[registry.Key]struct{}),
		data:      Document{},
		healthy:   true,
	}
}

// VehicleID returns the upstream vehicle identifier.
func (c *Coordinator) VehicleID() string { return c.vehicleID }

// VIN returns the vehicle identification number.
func (c *Coordinator) VIN() string { return c.vin }

// PushOnly reports whether webhook delivery replaces polling for this
// vehicle.
func (c *Coordinator) PushOnly() bool { return c.cfg.PushOnly }

// Healthy reports whether the most recent update cycle succeeded.
func (c *Coordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Data returns a read-only snapshot of the document.
func (c *Coordinator) Data() Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// IsScopeSatisfied reports whether the granted scopes cover every scope the
// key's descriptor requires. With verbose set, missing scopes are logged;
// every entity-creation path uses that to explain skipped entities.
func (c *Coordinator) IsScopeSatisfied(key registry.Key, verbose bool) bool {
	desc := registry.MustLookup(key)

	var missing []registry.Scope
	for _, scope := range desc.RequiredScopes {
		if !c.scopes[scope] {
			missing = append(missing, scope)
		}
	}
	if len(missing) == 0 {
		return true
	}

	if verbose {
		c.log.Warn().
			Str("key", string(key)).
			Interface("required", desc.RequiredScopes).
			Interface("missing", missing).
			Msg("skipping entity: granted scopes insufficient")
	}
	return false
}

// RequestField adds an entity key to the batch request set for the next
// refresh cycle. Callers must have already checked IsScopeSatisfied; a
// violation is a programmer error.
func (c *Coordinator) RequestField(key registry.Key) {
	if !c.IsScopeSatisfied(key, false) {
		panic(fmt.Sprintf("coordinator: field %q requested without required scopes", key))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batch[key] = struct{}{}
}

// collectBatch snapshots and clears the batch request set, auto-populating it
// from enabled entities first. Auto-population is skipped when polling is
// host-disabled or the integration runs push-only, so enabling push delivery
// does not trigger redundant pull traffic.
func (c *Coordinator) collectBatch() []registry.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.batch) == 0 {
		if c.cfg.PollingDisabled || c.cfg.PushOnly || c.cfg.Hooks.EnabledKeys == nil {
			return nil
		}
		for _, key := range c.cfg.Hooks.EnabledKeys() {
			if !c.IsScopeSatisfied(key, false) {
				panic(fmt.Sprintf("coordinator: enabled entity %q lacks required scopes", key))
			}
			c.batch[key] = struct{}{}
		}
	}

	keys := make([]registry.Key, 0, len(c.batch))
	for key := range c.batch {
		keys = append(keys, key)
	}
	c.batch = make(map[registry.Key]struct{})
	return keys
}

// Refresh runs one update cycle: resolve requested fields to endpoints, issue
// a single batched poll, and merge the results. An empty request set returns
// the previous document unchanged without a network call.
//
// Failures are distinguishable via errors.Is: smartcar.ErrAuthenticationRequired
// propagates so the host can begin reauthorization; everything else wraps
// smartcar.ErrUpdateFailed and leaves the document at its last good value.
func (c *Coordinator) Refresh(ctx context.Context) (Document, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	keys := c.collectBatch()
	if len(keys) == 0 {
		c.log.Warn().Msg("no updates to request based on granted scopes and context")
		return c.Data(), nil
	}

	endpointSet := map[string]struct{}{}
	for _, key := range keys {
		endpointSet[registry.MustLookup(key).PollEndpoint] = struct{}{}
	}
	endpoints := make([]string, 0, len(endpointSet))
	for endpoint := range endpointSet {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)

	c.log.Debug().Strs("endpoints", endpoints).Msg("requesting batch update")

	results, err := c.api.Batch(ctx, c.vehicleID, endpoints)
	if err != nil {
		c.setHealthy(false)
		return nil, err
	}

	updated := c.mergeBatchResults(results)

	c.mu.Lock()
	c.data = updated
	c.healthy = true
	c.mu.Unlock()

	return updated.Clone(), nil
}

// mergeBatchResults folds every batch response item into a copy of the
// current document. A non-200 item clears that endpoint's value and metadata
// rather than preserving stale values; codes outside {200, 404} are logged as
// anomalous but never abort the cycle.
func (c *Coordinator) mergeBatchResults(results []smartcar.BatchResult) Document {
	updated := c.Data()

	for _, item := range results {
		body := item.Body
		meta := Meta{
			UnitSystem: item.Headers[smartcar.HeaderUnitSystem],
			DataAge:    parseHeaderTime(item.Headers[smartcar.HeaderDataAge]),
			FetchedAt:  parseHeaderTime(item.Headers[smartcar.HeaderFetchedAt]),
		}

		if item.Code != 200 {
			body = nil
			meta = Meta{}
		}

		for _, desc := range registry.ByEndpointKey(registry.EndpointKey(item.Path)) {
			updated.applyPollUpdate(desc, body, meta, true)
		}

		if item.Code != 200 && item.Code != 404 {
			c.log.Warn().Int("code", item.Code).Str("path", item.Path).
				Msg("anomalous status for batch path")
		}
	}

	c.log.Debug().Msg("batch update processed")
	return updated
}

func (c *Coordinator) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

func parseHeaderTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}

// Update accumulates webhook-driven merges against a document copy so a
// multi-signal message commits, and publishes, exactly once.
type Update struct {
	c   *Coordinator
	doc Document
}

// BeginUpdate starts an accumulated update against the current document.
func (c *Coordinator) BeginUpdate() *Update {
	return &Update{c: c, doc: c.Data()}
}

// AddSignal merges one webhook signal into the pending update, fanning out to
// every descriptor sharing the signal's code. Unknown codes are ignored and
// reported as false.
func (u *Update) AddSignal(code string, body map[string]any, meta Meta, canClear bool) bool {
	descs := registry.ByLegacyCode(code)
	if descs == nil {
		return false
	}
	for _, desc := range descs {
		u.doc.applyPushUpdate(desc, body, meta, canClear)
	}
	return true
}

// Document exposes the pending document, mainly for tests.
func (u *Update) Document() Document {
	return u.doc
}

// CommitPush installs the accumulated document as the authoritative state and
// publishes it to the host's push-update channel.
func (c *Coordinator) CommitPush(u *Update) {
	c.mu.Lock()
	c.data = u.doc
	c.healthy = true
	c.mu.Unlock()

	if c.cfg.Hooks.OnPushUpdate != nil {
		c.cfg.Hooks.OnPushUpdate(u.doc.Clone())
	}
}

// RequestReauth forwards to the host's reauthorization trigger.
func (c *Coordinator) RequestReauth() {
	if c.cfg.Hooks.RequestReauth != nil {
		c.cfg.Hooks.RequestReauth()
	}
}

// InjectRestoredValue writes a restored raw value (and any restored metadata)
// at the given path so an entity shows its last-known value until the next
// real fetch. Restores never clear metadata and are not published.
func (c *Coordinator) InjectRestoredValue(path keypath.Path, raw any, meta Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := c.data.Clone()
	keypath.Set(map[string]any(updated), path, raw)
	updated.applyMeta(path.Root(), meta, false)
	c.data = updated
}
