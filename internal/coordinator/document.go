package coordinator

import (
	"time"

	"smartcar-bridge/internal/keypath"
	"smartcar-bridge/internal/registry"
)

// Document is the per-vehicle mapping from storage key to its merged value,
// plus metadata side keys per storage key. A storage key's value is nil
// exactly when the last fetch for it failed or returned 404 and no restored
// fallback exists.
type Document map[string]any

// Metadata side-key suffixes.
const (
	metaSuffixUnitSystem = ":unit_system"
	metaSuffixDataAge    = ":data_age"
	metaSuffixFetchedAt  = ":fetched_at"
)

// Meta carries the freshness and unit metadata attached to one update. Zero
// fields mean the update carried no such metadata.
type Meta struct {
	UnitSystem string
	DataAge    *time.Time
	FetchedAt  *time.Time
}

// Clone returns a top-level copy of the document. Merges always replace a
// storage key's value with a freshly built map, so sharing the nested values
// between clones is safe for readers.
func (d Document) Clone() Document {
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// Get follows a parsed key path into the document. The first segment is a
// storage key; missing segments yield nil.
func (d Document) Get(path keypath.Path) any {
	return keypath.Get(map[string]any(d), path)
}

// Meta returns the metadata side keys recorded for a storage key.
func (d Document) Meta(storageKey string) Meta {
	meta := Meta{}
	if unit, ok := d[storageKey+metaSuffixUnitSystem].(string); ok {
		meta.UnitSystem = unit
	}
	if age, ok := d[storageKey+metaSuffixDataAge].(time.Time); ok {
		meta.DataAge = &age
	}
	if fetched, ok := d[storageKey+metaSuffixFetchedAt].(time.Time); ok {
		meta.FetchedAt = &fetched
	}
	return meta
}

// applyMeta records an update's metadata for one storage key. Present fields
// overwrite; absent fields are cleared unless canClear is false (error
// updates must not erase last-known metadata).
func (d Document) applyMeta(storageKey string, meta Meta, canClear bool) {
	switch {
	case meta.UnitSystem != "":
		d[storageKey+metaSuffixUnitSystem] = meta.UnitSystem
	case canClear:
		delete(d, storageKey+metaSuffixUnitSystem)
	}

	switch {
	case meta.DataAge != nil:
		d[storageKey+metaSuffixDataAge] = *meta.DataAge
	case canClear:
		delete(d, storageKey+metaSuffixDataAge)
	}

	switch {
	case meta.FetchedAt != nil:
		d[storageKey+metaSuffixFetchedAt] = *meta.FetchedAt
	case canClear:
		delete(d, storageKey+metaSuffixFetchedAt)
	}
}

// currentPartial returns the stored partial value for a storage key, or nil.
func (d Document) currentPartial(storageKey string) map[string]any {
	partial, _ := d[storageKey].(map[string]any)
	return partial
}

// applyPollUpdate merges one poll response body into the document for a
// single descriptor: extract, transform, merge, then metadata.
func (d Document) applyPollUpdate(desc *registry.Descriptor, body map[string]any, meta Meta, canClear bool) {
	var raw any
	if body != nil {
		if desc.ExtractPath != nil {
			raw = keypath.Get(body, desc.ExtractPath)
		} else {
			raw = map[string]any(body)
		}
	}

	storageKey := desc.StorageKey()
	d[storageKey] = desc.ApplyMerge(d.currentPartial(storageKey), desc.ApplyTransform(raw))
	d.applyMeta(storageKey, meta, canClear)
}

// applyPushUpdate merges one webhook signal body into the document for a
// single descriptor. Push bodies already carry the canonical shape, so they
// shallow-merge over the stored partial; a nil body clears the value.
func (d Document) applyPushUpdate(desc *registry.Descriptor, body map[string]any, meta Meta, canClear bool) {
	storageKey := desc.StorageKey()

	if body == nil {
		d[storageKey] = nil
	} else {
		current := d.currentPartial(storageKey)
		merged := make(map[string]any, len(current)+len(body))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range body {
			merged[k] = v
		}
		d[storageKey] = merged
	}

	d.applyMeta(storageKey, meta, canClear)
}
