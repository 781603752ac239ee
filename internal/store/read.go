package store

import "github.com/hanpama/gqlenv/internal/language"

// Read rebuilds the response shape of sel from stored records. complete is
// false when any selected field has never been written.
func (s *Store) Read(sel Selector) (data map[string]any, complete bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := &reader{store: s, sel: sel, complete: true}
	data = make(map[string]any)
	root, ok := s.records[sel.RootID]
	if !ok {
		root = &Record{ID: sel.RootID}
	}
	r.readSelections(root, sel.Selections, data)
	return data, r.complete
}

type reader struct {
	store    *Store
	sel      Selector
	complete bool
}

// readSelections copies the selected fields of rec into out. Fields under a
// fragment whose type condition names another type are optional; their
// absence is not a miss.
func (r *reader) readSelections(rec *Record, set language.SelectionSet, out map[string]any) {
	vars := r.sel.Variables
	fields, err := r.sel.collectFields(set, rec.Typename)
	if err != nil {
		r.complete = false
		return
	}
	for _, cf := range fields {
		f := cf.field
		rk := responseKey(f)
		if f.Name == "__typename" && rec.Typename != "" {
			out[rk] = rec.Typename
			continue
		}
		key, err := StorageKey(f, vars)
		if err != nil {
			r.complete = false
			continue
		}
		v, ok := rec.Fields[key]
		if !ok {
			if cf.exact {
				r.complete = false
			}
			continue
		}
		out[rk] = r.denormalize(f, v)
	}
}

func (r *reader) denormalize(f *language.Field, v any) any {
	switch v := v.(type) {
	case Ref:
		target, ok := r.store.records[string(v)]
		if !ok {
			r.complete = false
			return nil
		}
		obj := make(map[string]any)
		r.readSelections(target, f.SelectionSet, obj)
		return obj
	case []any:
		if len(f.SelectionSet) == 0 {
			return cloneValue(v)
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.denormalize(f, item)
		}
		return out
	default:
		return cloneValue(v)
	}
}
