package typerule

import (
	"fmt"
	"maps"
	"slices"
)

// FieldView is returned when reading a field whose rule carries decorations.
// It exposes the decorations alongside the raw value.
type FieldView struct {
	Value any
	Field string
	Rule  *Rule

	decorations map[string]Decoration
}

// View wraps value for field when rule has decorations. It returns false
// when there is nothing to expose, in which case the raw value should be used.
func View(field string, value any, rule *Rule) (FieldView, bool) {
	if rule == nil {
		return FieldView{}, false
	}
	d := rule.Decorations()
	if len(d) == 0 {
		return FieldView{}, false
	}
	return FieldView{Value: value, Field: field, Rule: rule, decorations: d}, true
}

// Call invokes the named decoration on the raw value.
func (v FieldView) Call(name string, args ...any) (any, error) {
	fn, ok := v.decorations[name]
	if !ok {
		return nil, fmt.Errorf("field %s has no method %s", v.Field, name)
	}
	return fn(v.Value, args...)
}

// Has returns true if the decoration exists.
func (v FieldView) Has(name string) bool {
	_, ok := v.decorations[name]
	return ok
}

// Methods returns the sorted decoration names.
func (v FieldView) Methods() []string {
	return slices.Sorted(maps.Keys(v.decorations))
}

// String formats the raw value.
func (v FieldView) String() string {
	return fmt.Sprint(v.Value)
}

// Unwrap returns the raw value when v is a FieldView, and v otherwise.
func Unwrap(v any) any {
	switch t := v.(type) {
	case FieldView:
		return t.Value
	case *FieldView:
		if t == nil {
			return nil
		}
		return t.Value
	default:
		return v
	}
}
