package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hanpama/gqlenv/internal/language"
)

// Store holds the normalized record graph. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func New() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Get returns a copy of the record with the given identity.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs returns every record identity in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply normalizes data along sel and merges the result into the store.
// Nothing is written when normalization fails.
func (s *Store) Apply(sel Selector, data map[string]any) error {
	if data == nil {
		return nil
	}
	w := &writer{sel: sel, pending: make(map[string]*Record)}
	root := w.record(sel.RootID)
	if err := w.writeSelections(root, sel.Selections, data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range w.pending {
		r, ok := s.records[id]
		if !ok {
			r = &Record{ID: id, Fields: make(map[string]any, len(p.Fields))}
			s.records[id] = r
		}
		if p.Typename != "" {
			r.Typename = p.Typename
		}
		for k, v := range p.Fields {
			r.Fields[k] = v
		}
	}
	return nil
}

// writer collects the field writes of one payload before they are committed.
type writer struct {
	sel     Selector
	pending map[string]*Record
}

func (w *writer) record(id string) *Record {
	r, ok := w.pending[id]
	if !ok {
		r = &Record{ID: id, Fields: make(map[string]any)}
		w.pending[id] = r
	}
	return r
}

func (w *writer) writeSelections(rec *Record, set language.SelectionSet, obj map[string]any) error {
	tn, _ := obj["__typename"].(string)
	if tn != "" {
		rec.Typename = tn
	}
	fields, err := w.sel.collectFields(set, tn)
	if err != nil {
		return err
	}
	for _, cf := range fields {
		val, ok := obj[responseKey(cf.field)]
		if !ok {
			continue
		}
		key, err := StorageKey(cf.field, w.sel.Variables)
		if err != nil {
			return err
		}
		v, err := w.normalize(rec.ID+"."+key, cf.field, val)
		if err != nil {
			return err
		}
		rec.Fields[key] = v
	}
	return nil
}

// normalize converts a response value into its stored form. path is the
// client identity used for objects without an id.
func (w *writer) normalize(path string, f *language.Field, val any) (any, error) {
	if len(f.SelectionSet) == 0 {
		return cloneValue(val), nil
	}
	switch v := val.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		rec := w.record(identity(v, path))
		if err := w.writeSelections(rec, f.SelectionSet, v); err != nil {
			return nil, err
		}
		return Ref(rec.ID), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := w.normalize(path+"."+strconv.Itoa(i), f, item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("store: field %q: expected object or list, got %T", f.Name, val)
	}
}

func identity(obj map[string]any, fallback string) string {
	if id := IDString(obj["id"]); id != "" {
		return id
	}
	return fallback
}

// IDString converts an id value from a JSON payload to a record identity.
// It returns "" for values that cannot identify a record.
func IDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	}
	return ""
}
