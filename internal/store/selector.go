package store

import (
	"encoding/json"
	"fmt"

	"github.com/hanpama/gqlenv/internal/language"
)

// Selector names a record and the selections to read or write on it.
type Selector struct {
	RootID     string
	Selections language.SelectionSet
	Fragments  language.FragmentDefinitionList
	Variables  map[string]any
}

// OperationSelector builds the root selector of an operation.
func OperationSelector(doc *language.QueryDocument, op *language.OperationDefinition, vars map[string]any) Selector {
	root := RootID
	if op.Operation == language.Mutation {
		root = MutationRootID
	}
	return Selector{
		RootID:     root,
		Selections: op.SelectionSet,
		Fragments:  doc.Fragments,
		Variables:  vars,
	}
}

func (s Selector) fragment(name string) (*language.FragmentDefinition, error) {
	def := s.Fragments.ForName(name)
	if def == nil {
		return nil, fmt.Errorf("store: unknown fragment %q", name)
	}
	return def, nil
}

// collectedField is one field selected on an object. exact is false when the
// field sits under a fragment whose type condition names another type.
type collectedField struct {
	field *language.Field
	exact bool
}

// collectFields flattens set for an object whose type is typename (empty
// when unknown). Without a schema a condition naming another type may still
// be an interface the object implements, so such fields are kept as inexact
// and only fill response keys no exact field claims. Exact fields come first.
func (s Selector) collectFields(set language.SelectionSet, typename string) ([]collectedField, error) {
	var exact, inexact []*language.Field
	var walk func(set language.SelectionSet, matches bool) error
	walk = func(set language.SelectionSet, matches bool) error {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *language.Field:
				if skipped(sel.Directives, s.Variables) {
					continue
				}
				if matches {
					exact = append(exact, sel)
				} else {
					inexact = append(inexact, sel)
				}
			case *language.InlineFragment:
				if skipped(sel.Directives, s.Variables) {
					continue
				}
				if err := walk(sel.SelectionSet, matches && conditionMatches(typename, sel.TypeCondition)); err != nil {
					return err
				}
			case *language.FragmentSpread:
				if skipped(sel.Directives, s.Variables) {
					continue
				}
				def, err := s.fragment(sel.Name)
				if err != nil {
					return err
				}
				if err := walk(def.SelectionSet, matches && conditionMatches(typename, def.TypeCondition)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(set, true); err != nil {
		return nil, err
	}

	out := make([]collectedField, 0, len(exact)+len(inexact))
	claimed := make(map[string]bool, len(exact))
	for _, f := range exact {
		claimed[responseKey(f)] = true
		out = append(out, collectedField{field: f, exact: true})
	}
	for _, f := range inexact {
		if claimed[responseKey(f)] {
			continue
		}
		out = append(out, collectedField{field: f})
	}
	return out, nil
}

func conditionMatches(typename, cond string) bool {
	return cond == "" || typename == "" || typename == cond
}

func responseKey(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// StorageKey returns the key a field is stored under: its name, followed by
// its arguments as canonical JSON when it has any. Aliases do not take part.
func StorageKey(f *language.Field, vars map[string]any) (string, error) {
	if len(f.Arguments) == 0 {
		return f.Name, nil
	}
	args := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		v, err := a.Value.Value(vars)
		if err != nil {
			return "", fmt.Errorf("store: argument %s.%s: %w", f.Name, a.Name, err)
		}
		args[a.Name] = v
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("store: argument %s: %w", f.Name, err)
	}
	return f.Name + "(" + string(b) + ")", nil
}

// skipped evaluates @skip and @include against vars.
func skipped(dirs language.DirectiveList, vars map[string]any) bool {
	for _, d := range dirs {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		v, err := arg.Value.Value(vars)
		if err != nil {
			continue
		}
		b, _ := v.(bool)
		if d.Name == "skip" && b {
			return true
		}
		if d.Name == "include" && !b {
			return true
		}
	}
	return false
}
