// Package entity implements the generic read path shared by every display
// entity: value extraction from the coordinator's document, cast and unit
// conversion, availability, poll-time batching, and restore across restarts.
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/keypath"
	"smartcar-bridge/internal/registry"
)

// Description is the flat per-entity configuration: where its value lives in
// the document and how to present it.
type Description struct {
	Key  registry.Key
	Name string

	// ValueKeyPath locates the raw value; its first segment is the storage
	// key whose metadata side keys apply.
	ValueKeyPath keypath.Path

	// ValueCast converts the raw value for display. Nil means identity. Casts
	// must map nil (and uncastable values) to nil.
	ValueCast func(any) any

	// ImperialConversion converts a numeric value recorded under an imperial
	// unit system into the canonical metric unit. Nil means no conversion.
	ImperialConversion func(float64) float64

	// DefaultEnabled marks entities enabled out of the box.
	DefaultEnabled bool
}

// Snapshot is the persisted last-known state of one entity: always the raw,
// pre-cast value, so restoring stays correct across cast or unit changes.
type Snapshot struct {
	RawValue   any
	UnitSystem string
	DataAge    *time.Time
	FetchedAt  *time.Time
}

// Entity projects one descriptor-backed field out of a coordinator's
// document. Entities only read the document; the single restore injection at
// startup goes through the coordinator.
type Entity struct {
	coord *coordinator.Coordinator
	desc  Description
	log   zerolog.Logger
}

// New creates an entity bound to a coordinator. Callers are expected to have
// checked IsScopeSatisfied before instantiating.
func New(coord *coordinator.Coordinator, desc Description, log zerolog.Logger) *Entity {
	return &Entity{
		coord: coord,
		desc:  desc,
		log:   log.With().Str("component", "entity").Str("key", string(desc.Key)).Logger(),
	}
}

// Description returns the entity's configuration.
func (e *Entity) Description() Description { return e.desc }

// UniqueID identifies the entity across restarts.
func (e *Entity) UniqueID() string {
	return fmt.Sprintf("%s_%s", e.coord.VIN(), e.desc.Key)
}

// RawValue returns the uncast value at the entity's key path, or nil.
func (e *Entity) RawValue() any {
	return e.coord.Data().Get(e.desc.ValueKeyPath)
}

func (e *Entity) meta() coordinator.Meta {
	return e.coord.Data().Meta(e.desc.ValueKeyPath.Root())
}

// UnitSystem returns the unit system recorded for the entity's storage key.
func (e *Entity) UnitSystem() string { return e.meta().UnitSystem }

// DataAge returns when the vehicle originally produced the value.
func (e *Entity) DataAge() *time.Time { return e.meta().DataAge }

// FetchedAt returns when the upstream API fetched the value.
func (e *Entity) FetchedAt() *time.Time { return e.meta().FetchedAt }

// Value returns the display value: raw value through the cast, then through
// the imperial conversion when the ambient unit system calls for it. Absence
// anywhere yields nil.
func (e *Entity) Value() any {
	value := e.RawValue()
	if e.desc.ValueCast != nil {
		value = e.desc.ValueCast(value)
	}
	if value == nil {
		return nil
	}

	if e.desc.ImperialConversion != nil && e.UnitSystem() == "imperial" {
		if f, ok := asFloat(value); ok {
			value = e.desc.ImperialConversion(f)
		}
	}
	return value
}

// Available reports whether the entity should render at all: the coordinator
// must be healthy and the projected value present. A field this vehicle
// cannot populate renders as unavailable, never as a misleading default.
func (e *Entity) Available() bool {
	return e.coord.Healthy() && e.RawValue() != nil && e.Value() != nil
}

// Poll registers the entity's field for the next batch and delegates to the
// coordinator's refresh, so every entity due in the same tick shares one
// network round trip.
func (e *Entity) Poll(ctx context.Context) error {
	e.coord.RequestField(e.desc.Key)
	_, err := e.coord.Refresh(ctx)
	return err
}

// Snapshot captures the entity's last-known state for persistence at
// shutdown.
func (e *Entity) Snapshot() Snapshot {
	meta := e.meta()
	return Snapshot{
		RawValue:   e.RawValue(),
		UnitSystem: meta.UnitSystem,
		DataAge:    meta.DataAge,
		FetchedAt:  meta.FetchedAt,
	}
}

// Restore injects a persisted snapshot into the document so the entity shows
// a best-effort last-known value until the next real fetch. It applies only
// when the entity is currently unavailable and the snapshot holds a value;
// restores never clear metadata.
func (e *Entity) Restore(snap Snapshot) bool {
	if snap.RawValue == nil || e.Available() {
		return false
	}

	e.coord.InjectRestoredValue(e.desc.ValueKeyPath, snap.RawValue, coordinator.Meta{
		UnitSystem: snap.UnitSystem,
		DataAge:    snap.DataAge,
		FetchedAt:  snap.FetchedAt,
	})
	e.log.Debug().Msg("restored last-known value")
	return true
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
