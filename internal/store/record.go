package store

import (
	"maps"
	"sort"
)

const (
	// RootID identifies the record holding query root fields.
	RootID = "client:root"
	// MutationRootID identifies the record holding mutation root fields.
	MutationRootID = "client:root:mutation"
)

// Ref links a field to another record by identity.
type Ref string

// Record is a snapshot of one normalized entity.
type Record struct {
	ID       string
	Typename string
	Fields   map[string]any
}

// Get returns the stored value for a storage key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Keys returns the record's storage keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Record) clone() Record {
	out := Record{ID: r.ID, Typename: r.Typename, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies JSON containers so callers never alias store memory.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := maps.Clone(v)
		for k, e := range out {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
