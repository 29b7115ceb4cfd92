package entity

import (
	"math"

	"smartcar-bridge/internal/keypath"
	"smartcar-bridge/internal/registry"
)

// Canonical unit conversion factors. Values recorded under an imperial unit
// system are converted to metric at read time.
const (
	milesToKilometers = 1.609344
	psiToKilopascals  = 6.894757
	gallonsToLiters   = 3.785411784
)

// percentCast turns a 0..1 fraction into a whole percentage.
func percentCast(value any) any {
	f, ok := asFloat(value)
	if !ok {
		return nil
	}
	return math.Round(f * 100)
}

// chargeLimitCast extracts the global charge limit fraction from the stored
// limit list and presents it as a whole percentage.
func chargeLimitCast(value any) any {
	values, ok := value.([]any)
	if !ok {
		return nil
	}
	for _, item := range values {
		entry, ok := item.(map[string]any)
		if !ok || entry["type"] != "global" {
			continue
		}
		return percentCast(entry["limit"])
	}
	return nil
}

// tireCast selects one wheel's pressure out of the merged tire grid. Rows and
// columns compare as float64 to match the stored grid entries.
func tireCast(row, column int) func(any) any {
	return func(value any) any {
		values, ok := value.([]any)
		if !ok {
			return nil
		}
		for _, item := range values {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r, rok := asFloat(entry["row"])
			c, cok := asFloat(entry["column"])
			if rok && cok && r == float64(row) && c == float64(column) {
				return entry["tirePressure"]
			}
		}
		return nil
	}
}

func scale(factor float64) func(float64) float64 {
	return func(v float64) float64 { return v * factor }
}

// Descriptions returns the full entity table. Keys with no description here
// are coordination-only fields.
func Descriptions() []Description {
	return []Description{
		{
			Key:          registry.KeyBatteryCapacity,
			Name:         "Battery capacity",
			ValueKeyPath: keypath.Parse("tractionbattery-nominalcapacity.capacity"),
		},
		{
			Key:            registry.KeyBatteryLevel,
			Name:           "Battery level",
			ValueKeyPath:   keypath.Parse("tractionbattery-stateofcharge.value"),
			ValueCast:      percentCast,
			DefaultEnabled: true,
		},
		{
			Key:          registry.KeyChargeLimit,
			Name:         "Charge limit",
			ValueKeyPath: keypath.Parse("charge-chargelimits.values"),
			ValueCast:    chargeLimitCast,
		},
		{
			Key:            registry.KeyCharging,
			Name:           "Charging",
			ValueKeyPath:   keypath.Parse("charge-ischarging.value"),
			DefaultEnabled: true,
		},
		{
			Key:            registry.KeyChargingState,
			Name:           "Charging state",
			ValueKeyPath:   keypath.Parse("pollonly-charge.value"),
			DefaultEnabled: true,
		},
		{
			Key:            registry.KeyDoorLock,
			Name:           "Door lock",
			ValueKeyPath:   keypath.Parse("closure-islocked.value"),
			DefaultEnabled: true,
		},
		{
			Key:          registry.KeyEngineOil,
			Name:         "Engine oil life",
			ValueKeyPath: keypath.Parse("internalcombustionengine-oillife.value"),
			ValueCast:    percentCast,
		},
		{
			Key:                registry.KeyFuel,
			Name:               "Fuel remaining",
			ValueKeyPath:       keypath.Parse("internalcombustionengine-amountremaining.value"),
			ImperialConversion: scale(gallonsToLiters),
		},
		{
			Key:          registry.KeyFuelPercent,
			Name:         "Fuel level",
			ValueKeyPath: keypath.Parse("internalcombustionengine-fuellevel.value"),
			ValueCast:    percentCast,
		},
		{
			Key:                registry.KeyFuelRange,
			Name:               "Fuel range",
			ValueKeyPath:       keypath.Parse("internalcombustionengine-range.value"),
			ImperialConversion: scale(milesToKilometers),
		},
		{
			Key:            registry.KeyLocation,
			Name:           "Location",
			ValueKeyPath:   keypath.Parse("location-preciselocation.value"),
			DefaultEnabled: true,
		},
		{
			Key:                registry.KeyOdometer,
			Name:               "Odometer",
			ValueKeyPath:       keypath.Parse("odometer-traveleddistance.value"),
			ImperialConversion: scale(milesToKilometers),
		},
		{
			Key:            registry.KeyPlugStatus,
			Name:           "Plug status",
			ValueKeyPath:   keypath.Parse("charge-ischargingcableconnected.value"),
			DefaultEnabled: true,
		},
		{
			Key:                registry.KeyRange,
			Name:               "Range",
			ValueKeyPath:       keypath.Parse("tractionbattery-range.value"),
			ImperialConversion: scale(milesToKilometers),
			DefaultEnabled:     true,
		},
		{
			Key:                registry.KeyTirePressureBackLeft,
			Name:               "Tire pressure back left",
			ValueKeyPath:       keypath.Parse("wheel-tires.values"),
			ValueCast:          tireCast(registry.TireBackRow, registry.TireLeftColumn),
			ImperialConversion: scale(psiToKilopascals),
		},
		{
			Key:                registry.KeyTirePressureBackRight,
			Name:               "Tire pressure back right",
			ValueKeyPath:       keypath.Parse("wheel-tires.values"),
			ValueCast:          tireCast(registry.TireBackRow, registry.TireRightColumn),
			ImperialConversion: scale(psiToKilopascals),
		},
		{
			Key:                registry.KeyTirePressureFrontLeft,
			Name:               "Tire pressure front left",
			ValueKeyPath:       keypath.Parse("wheel-tires.values"),
			ValueCast:          tireCast(registry.TireFrontRow, registry.TireLeftColumn),
			ImperialConversion: scale(psiToKilopascals),
		},
		{
			Key:                registry.KeyTirePressureFrontRight,
			Name:               "Tire pressure front right",
			ValueKeyPath:       keypath.Parse("wheel-tires.values"),
			ValueCast:          tireCast(registry.TireFrontRow, registry.TireRightColumn),
			ImperialConversion: scale(psiToKilopascals),
		},
	}
}
