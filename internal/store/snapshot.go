package store

import (
	"encoding/json"
	"fmt"
	"time"

	"smartcar-bridge/internal/entity"
	"smartcar-bridge/internal/model"
	"smartcar-bridge/internal/registry"
)

// EncodeSnapshot converts an entity snapshot into its database record. The
// raw value is JSON-encoded; a nil raw value yields ok=false since there is
// nothing worth persisting.
func EncodeSnapshot(vin string, key registry.Key, snap entity.Snapshot) (model.RestoreSnapshot, bool, error) {
	if snap.RawValue == nil {
		return model.RestoreSnapshot{}, false, nil
	}
	raw, err := json.Marshal(snap.RawValue)
	if err != nil {
		return model.RestoreSnapshot{}, false, fmt.Errorf("failed to encode snapshot for %s/%s: %w", vin, key, err)
	}
	return model.RestoreSnapshot{
		VIN:        vin,
		EntityKey:  string(key),
		RawValue:   string(raw),
		UnitSystem: snap.UnitSystem,
		DataAge:    snap.DataAge,
		FetchedAt:  snap.FetchedAt,
		UpdatedAt:  time.Now(),
	}, true, nil
}

// DecodeSnapshot converts a database record back into an entity snapshot.
func DecodeSnapshot(rec model.RestoreSnapshot) (entity.Snapshot, error) {
	var raw any
	if err := json.Unmarshal([]byte(rec.RawValue), &raw); err != nil {
		return entity.Snapshot{}, fmt.Errorf("failed to decode snapshot for %s/%s: %w", rec.VIN, rec.EntityKey, err)
	}
	return entity.Snapshot{
		RawValue:   raw,
		UnitSystem: rec.UnitSystem,
		DataAge:    rec.DataAge,
		FetchedAt:  rec.FetchedAt,
	}, nil
}
