// Package registry holds the static datapoint table: one descriptor per
// logical vehicle-data field, describing the scopes it needs, the batch poll
// endpoint that serves it, where its value sits in that endpoint's response,
// and how partial updates combine. The tables are built once at load time and
// never mutated.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"smartcar-bridge/internal/keypath"
)

// Scope is a Smartcar authorization grant unit.
type Scope string

const (
	ScopeReadVehicleInfo Scope = "read_vehicle_info"
	ScopeReadVIN         Scope = "read_vin"
	ScopeReadBattery     Scope = "read_battery"
	ScopeReadCharge      Scope = "read_charge"
	ScopeReadEngineOil   Scope = "read_engine_oil"
	ScopeReadFuel        Scope = "read_fuel"
	ScopeReadLocation    Scope = "read_location"
	ScopeReadOdometer    Scope = "read_odometer"
	ScopeReadSecurity    Scope = "read_security"
	ScopeReadTires       Scope = "read_tires"
	ScopeControlCharge   Scope = "control_charge"
	ScopeControlSecurity Scope = "control_security"
)

// AllScopes returns every scope any descriptor can require.
func AllScopes() []Scope {
	return []Scope{
		ScopeReadVehicleInfo, ScopeReadVIN, ScopeReadBattery, ScopeReadCharge,
		ScopeReadEngineOil, ScopeReadFuel, ScopeReadLocation, ScopeReadOdometer,
		ScopeReadSecurity, ScopeReadTires, ScopeControlCharge, ScopeControlSecurity,
	}
}

// Key identifies one logical field / display entity.
type Key string

const (
	KeyBatteryCapacity        Key = "battery_capacity"
	KeyBatteryLevel           Key = "battery_level"
	KeyChargeLimit            Key = "charge_limit"
	KeyCharging               Key = "charging"
	KeyChargingState          Key = "charging_state"
	KeyDoorLock               Key = "door_lock"
	KeyEngineOil              Key = "engine_oil"
	KeyFuel                   Key = "fuel"
	KeyFuelPercent            Key = "fuel_percent"
	KeyFuelRange              Key = "fuel_range"
	KeyLocation               Key = "location"
	KeyOdometer               Key = "odometer"
	KeyPlugStatus             Key = "plug_status"
	KeyRange                  Key = "range"
	KeyTirePressureBackLeft   Key = "tire_pressure_back_left"
	KeyTirePressureBackRight  Key = "tire_pressure_back_right"
	KeyTirePressureFrontLeft  Key = "tire_pressure_front_left"
	KeyTirePressureFrontRight Key = "tire_pressure_front_right"
)

// Tire grid positions used by the tire-position transform and the tire value
// casts.
const (
	TireFrontRow    = 0
	TireBackRow     = 1
	TireLeftColumn  = 0
	TireRightColumn = 1
)

// Descriptor is the immutable metadata record for one logical field.
type Descriptor struct {
	Key Key

	// LegacyCode is the identifier used by the webhook push protocol. Empty
	// means the field has no push equivalent and is poll-only.
	LegacyCode string

	RequiredScopes []Scope

	// PollEndpoint is the relative path used in batch poll requests. Several
	// descriptors may share one endpoint.
	PollEndpoint string

	// ExtractPath locates this descriptor's raw value inside the endpoint's
	// response body. Nil means the whole body is the value.
	ExtractPath keypath.Path

	Transform TransformStrategy
	Merge     MergeStrategy

	// Tire grid coordinates, used only by TransformTirePosition.
	TireRow    int
	TireColumn int
}

// EndpointKey derives the fan-out key for a poll endpoint: slashes trimmed,
// inner slashes underscored.
func EndpointKey(endpoint string) string {
	return strings.ReplaceAll(strings.Trim(endpoint, "/"), "/", "_")
}

// StorageKey is the canonical identifier under which this field's value lives
// in the per-vehicle document: the legacy code when one exists, otherwise a
// key derived from the poll endpoint.
func (d *Descriptor) StorageKey() string {
	if d.LegacyCode != "" {
		return d.LegacyCode
	}
	return "pollonly-" + EndpointKey(d.PollEndpoint)
}

var descriptors = map[Key]*Descriptor{
	KeyBatteryCapacity: {
		Key:            KeyBatteryCapacity,
		LegacyCode:     "tractionbattery-nominalcapacity",
		RequiredScopes: []Scope{ScopeReadBattery},
		PollEndpoint:   "/battery/nominal_capacity",
		ExtractPath:    keypath.Parse("capacity.nominal"),
		Transform:      TransformBatteryCapacity,
	},
	KeyBatteryLevel: {
		Key:            KeyBatteryLevel,
		LegacyCode:     "tractionbattery-stateofcharge",
		RequiredScopes: []Scope{ScopeReadBattery},
		PollEndpoint:   "/battery",
		ExtractPath:    keypath.Parse("percentRemaining"),
	},
	KeyChargeLimit: {
		Key:            KeyChargeLimit,
		LegacyCode:     "charge-chargelimits",
		RequiredScopes: []Scope{ScopeReadCharge, ScopeControlCharge},
		PollEndpoint:   "/charge/limit",
		ExtractPath:    keypath.Parse("limit"),
		Transform:      TransformChargeLimit,
	},
	KeyCharging: {
		Key:            KeyCharging,
		LegacyCode:     "charge-ischarging",
		RequiredScopes: []Scope{ScopeReadCharge, ScopeControlCharge},
		PollEndpoint:   "/charge",
		ExtractPath:    keypath.Parse("state"),
		Transform:      TransformChargingFlag,
	},
	KeyChargingState: {
		Key:            KeyChargingState,
		RequiredScopes: []Scope{ScopeReadCharge, ScopeControlCharge},
		PollEndpoint:   "/charge",
		ExtractPath:    keypath.Parse("state"),
	},
	KeyDoorLock: {
		Key:            KeyDoorLock,
		LegacyCode:     "closure-islocked",
		RequiredScopes: []Scope{ScopeReadSecurity, ScopeControlSecurity},
		PollEndpoint:   "/security",
		ExtractPath:    keypath.Parse("isLocked"),
	},
	KeyEngineOil: {
		Key:            KeyEngineOil,
		LegacyCode:     "internalcombustionengine-oillife",
		RequiredScopes: []Scope{ScopeReadEngineOil},
		PollEndpoint:   "/engine/oil",
		ExtractPath:    keypath.Parse("lifeRemaining"),
	},
	KeyFuel: {
		Key:            KeyFuel,
		LegacyCode:     "internalcombustionengine-amountremaining",
		RequiredScopes: []Scope{ScopeReadFuel},
		PollEndpoint:   "/fuel",
		ExtractPath:    keypath.Parse("amountRemaining"),
	},
	KeyFuelPercent: {
		Key:            KeyFuelPercent,
		LegacyCode:     "internalcombustionengine-fuellevel",
		RequiredScopes: []Scope{ScopeReadFuel},
		PollEndpoint:   "/fuel",
		ExtractPath:    keypath.Parse("percentRemaining"),
	},
	KeyFuelRange: {
		Key:            KeyFuelRange,
		LegacyCode:     "internalcombustionengine-range",
		RequiredScopes: []Scope{ScopeReadFuel},
		PollEndpoint:   "/fuel",
		ExtractPath:    keypath.Parse("range"),
	},
	KeyLocation: {
		Key:            KeyLocation,
		LegacyCode:     "location-preciselocation",
		RequiredScopes: []Scope{ScopeReadLocation},
		PollEndpoint:   "/location",
	},
	KeyOdometer: {
		Key:            KeyOdometer,
		LegacyCode:     "odometer-traveleddistance",
		RequiredScopes: []Scope{ScopeReadOdometer},
		PollEndpoint:   "/odometer",
		ExtractPath:    keypath.Parse("distance"),
	},
	KeyPlugStatus: {
		Key:            KeyPlugStatus,
		LegacyCode:     "charge-ischargingcableconnected",
		RequiredScopes: []Scope{ScopeReadCharge},
		PollEndpoint:   "/charge",
		ExtractPath:    keypath.Parse("isPluggedIn"),
	},
	KeyRange: {
		Key:            KeyRange,
		LegacyCode:     "tractionbattery-range",
		RequiredScopes: []Scope{ScopeReadBattery},
		PollEndpoint:   "/battery",
		ExtractPath:    keypath.Parse("range"),
	},
	KeyTirePressureBackLeft: {
		Key:            KeyTirePressureBackLeft,
		LegacyCode:     "wheel-tires",
		RequiredScopes: []Scope{ScopeReadTires},
		PollEndpoint:   "/tires/pressure",
		ExtractPath:    keypath.Parse("backLeft"),
		Transform:      TransformTirePosition,
		Merge:          MergeTireValues,
		TireRow:        TireBackRow,
		TireColumn:     TireLeftColumn,
	},
	KeyTirePressureBackRight: {
		Key:            KeyTirePressureBackRight,
		LegacyCode:     "wheel-tires",
		RequiredScopes: []Scope{ScopeReadTires},
		PollEndpoint:   "/tires/pressure",
		ExtractPath:    keypath.Parse("backRight"),
		Transform:      TransformTirePosition,
		Merge:          MergeTireValues,
		TireRow:        TireBackRow,
		TireColumn:     TireRightColumn,
	},
	KeyTirePressureFrontLeft: {
		Key:            KeyTirePressureFrontLeft,
		LegacyCode:     "wheel-tires",
		RequiredScopes: []Scope{ScopeReadTires},
		PollEndpoint:   "/tires/pressure",
		ExtractPath:    keypath.Parse("frontLeft"),
		Transform:      TransformTirePosition,
		Merge:          MergeTireValues,
		TireRow:        TireFrontRow,
		TireColumn:     TireLeftColumn,
	},
	KeyTirePressureFrontRight: {
		Key:            KeyTirePressureFrontRight,
		LegacyCode:     "wheel-tires",
		RequiredScopes: []Scope{ScopeReadTires},
		PollEndpoint:   "/tires/pressure",
		ExtractPath:    keypath.Parse("frontRight"),
		Transform:      TransformTirePosition,
		Merge:          MergeTireValues,
		TireRow:        TireFrontRow,
		TireColumn:     TireRightColumn,
	},
}

// Derived indexes. byEndpointKey fans one batched HTTP response out to every
// interested storage key; byLegacyCode fans one webhook signal out the same
// way.
var (
	byEndpointKey = map[string][]*Descriptor{}
	byLegacyCode  = map[string][]*Descriptor{}
)

func init() {
	for key, d := range descriptors {
		if d.Key != key {
			panic(fmt.Sprintf("registry: descriptor %q keyed as %q", d.Key, key))
		}
		byEndpointKey[EndpointKey(d.PollEndpoint)] = append(byEndpointKey[EndpointKey(d.PollEndpoint)], d)
		if d.LegacyCode != "" {
			byLegacyCode[d.LegacyCode] = append(byLegacyCode[d.LegacyCode], d)
		}
	}

	// Descriptors sharing a legacy code must also share a poll endpoint, or
	// the storage key would alias values fetched from different endpoints.
	for code, group := range byLegacyCode {
		for _, d := range group {
			if d.PollEndpoint != group[0].PollEndpoint {
				panic(fmt.Sprintf("registry: legacy code %q spans endpoints %q and %q",
					code, group[0].PollEndpoint, d.PollEndpoint))
			}
		}
	}

	for _, group := range byEndpointKey {
		sortDescriptors(group)
	}
	for _, group := range byLegacyCode {
		sortDescriptors(group)
	}
}

func sortDescriptors(group []*Descriptor) {
	sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
}

// Lookup returns the descriptor for an entity key.
func Lookup(key Key) (*Descriptor, bool) {
	d, ok := descriptors[key]
	return d, ok
}

// MustLookup returns the descriptor for a key known at compile time.
func MustLookup(key Key) *Descriptor {
	d, ok := descriptors[key]
	if !ok {
		panic(fmt.Sprintf("registry: unknown entity key %q", key))
	}
	return d
}

// ByEndpointKey returns every descriptor fed by the poll endpoint with the
// given derived key.
func ByEndpointKey(endpointKey string) []*Descriptor {
	return byEndpointKey[endpointKey]
}

// ByLegacyCode returns every descriptor fed by the given webhook signal code.
func ByLegacyCode(code string) []*Descriptor {
	return byLegacyCode[code]
}

// IsKnownCode reports whether any descriptor consumes the given signal code.
func IsKnownCode(code string) bool {
	_, ok := byLegacyCode[code]
	return ok
}

// Keys returns all entity keys in sorted order.
func Keys() []Key {
	keys := make([]Key, 0, len(descriptors))
	for key := range descriptors {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
