package registry

// TransformStrategy names the pure function that turns an extracted poll
// value into the canonical partial document stored under the descriptor's
// storage key. The set is closed so the table stays data plus an enum.
type TransformStrategy int

const (
	// TransformWrapValue wraps the raw value as {"value": raw}.
	TransformWrapValue TransformStrategy = iota
	// TransformBatteryCapacity shapes a nominal capacity reading.
	TransformBatteryCapacity
	// TransformChargeLimit shapes a single global charge limit.
	TransformChargeLimit
	// TransformChargingFlag maps the charge state enum to a boolean.
	TransformChargingFlag
	// TransformTirePosition places a pressure reading on the tire grid.
	TransformTirePosition
)

// MergeStrategy names the pure function combining a previously stored partial
// value with a freshly transformed one.
type MergeStrategy int

const (
	// MergeShallow overlays the update's top-level keys onto the current
	// value.
	MergeShallow MergeStrategy = iota
	// MergeTireValues unions "values" arrays keyed by (row, column) identity,
	// update entries winning, so one wheel's reading never erases the others.
	MergeTireValues
)

// ApplyTransform runs the descriptor's transform strategy over a raw value.
func (d *Descriptor) ApplyTransform(raw any) map[string]any {
	switch d.Transform {
	case TransformBatteryCapacity:
		return map[string]any{"capacity": raw, "availableCapacities": []any{}}
	case TransformChargeLimit:
		return map[string]any{
			"values": []any{
				map[string]any{"type": "global", "limit": raw, "condition": nil},
			},
		}
	case TransformChargingFlag:
		if raw == nil {
			return map[string]any{"value": nil}
		}
		return map[string]any{"value": raw == "CHARGING"}
	case TransformTirePosition:
		// float64 matches how JSON decoding shapes webhook-delivered grids,
		// so (row, column) identities compare equal across both paths.
		return map[string]any{
			"values": []any{
				map[string]any{
					"tirePressure": raw,
					"row":          float64(d.TireRow),
					"column":       float64(d.TireColumn),
				},
			},
			"rowCount":    2,
			"columnCount": 2,
		}
	default:
		return map[string]any{"value": raw}
	}
}

// ApplyMerge runs the descriptor's merge strategy. Both inputs are treated as
// immutable; the result is a fresh map.
func (d *Descriptor) ApplyMerge(current, update map[string]any) map[string]any {
	switch d.Merge {
	case MergeTireValues:
		return mergeTireValues(current, update)
	default:
		merged := make(map[string]any, len(current)+len(update))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}
		return merged
	}
}

func mergeTireValues(current, update map[string]any) map[string]any {
	type position struct{ row, column any }

	var values []any
	seen := map[position]bool{}

	for _, value := range append(valuesOf(update), valuesOf(current)...) {
		entry, ok := value.(map[string]any)
		if !ok {
			continue
		}
		pos := position{entry["row"], entry["column"]}
		if !seen[pos] {
			values = append(values, value)
			seen[pos] = true
		}
	}

	merged := make(map[string]any, len(update))
	for k, v := range update {
		merged[k] = v
	}
	merged["values"] = values
	return merged
}

func valuesOf(partial map[string]any) []any {
	values, _ := partial["values"].([]any)
	return values
}
