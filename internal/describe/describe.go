// Package describe exports compiled schemas as JSON Schema documents.
package describe

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/typerule"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// JSONSchema returns the JSON Schema of the stored form of t's documents.
// Sub-document schemas are emitted once under $defs and referenced.
func JSONSchema(t *mapper.Type) (*jsonschema.Schema, error) {
	b := builder{reg: t.Registry(), defs: jsonschema.Definitions{}}
	root, err := b.object(t)
	if err != nil {
		return nil, err
	}
	root.Version = jsonschema.Version
	root.Title = t.Name()
	if len(b.defs) != 0 {
		root.Definitions = b.defs
	}
	return root, nil
}

type builder struct {
	reg  *mapper.Registry
	defs jsonschema.Definitions
}

func (b *builder) object(t *mapper.Type) (*jsonschema.Schema, error) {
	rule := t.Schema()
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set(store.IDField, &jsonschema.Schema{Type: "string", ReadOnly: true})
	s := &jsonschema.Schema{Type: "object", Properties: props}
	for _, f := range rule.Fields {
		if f.Linked {
			continue
		}
		p, err := b.field(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rule.Name, f.Name, err)
		}
		props.Set(f.Name, p)
		if !f.IsArray && !f.Generated {
			s.Required = append(s.Required, f.Name)
		}
	}
	for _, ff := range rule.ForeignFields {
		props.Set(ff.ChildForeignIDField, &jsonschema.Schema{
			Description: fmt.Sprintf("%s of the %s listing this document in %s", ff.ParentIDField, ff.RelatedSchema, ff.ParentContainerField),
		})
	}
	if st := rule.Storage; st.Kind != mapper.Unstored {
		s.Extras = map[string]any{"x-collection": st.Collection}
		if st.Kind == mapper.EmbeddedInArray {
			s.Extras["x-array-field"] = st.ArrayField
		}
	}
	if len(rule.Indexes) != 0 {
		if s.Extras == nil {
			s.Extras = map[string]any{}
		}
		s.Extras["x-indexes"] = indexes(rule.Indexes)
	}
	return s, nil
}

func (b *builder) field(f *mapper.FieldRule) (*jsonschema.Schema, error) {
	if f.SchemaName != "" {
		ref, err := b.ref(f.SchemaName)
		if err != nil {
			return nil, err
		}
		if !f.IsArray {
			return ref, nil
		}
		s := &jsonschema.Schema{Type: "array", Items: ref}
		if f.CardinalityMin > 0 {
			s.MinItems = uint64Ptr(f.CardinalityMin)
		}
		if f.CardinalityMax >= 0 {
			s.MaxItems = uint64Ptr(f.CardinalityMax)
		}
		return s, nil
	}
	s := value(f.Rules)
	s.ReadOnly = f.Generated
	return s, nil
}

func (b *builder) ref(name string) (*jsonschema.Schema, error) {
	ref := &jsonschema.Schema{Ref: "#/$defs/" + name}
	if _, done := b.defs[name]; done {
		return ref, nil
	}
	t, ok := b.reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("schema %s is not defined", name)
	}
	// Reserve the name first so recursive schemas terminate.
	b.defs[name] = &jsonschema.Schema{}
	def, err := b.object(t)
	if err != nil {
		return nil, err
	}
	b.defs[name] = def
	return ref, nil
}

// value merges the constraints of a rule chain into one schema.
func value(chain []*typerule.Rule) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	if len(chain) == 0 {
		return s
	}
	switch chain[0].Base() {
	case typerule.String, typerule.ID:
		s.Type = "string"
		s.MinLength = uint64Ptr(1)
	case typerule.Number:
		s.Type = "number"
	case typerule.Bool:
		s.Type = "boolean"
	case typerule.Time:
		s.Type = "string"
		s.Format = "date-time"
	case typerule.Any:
	}
	for _, r := range chain {
		if n, ok := r.MinLen(); ok && (s.MinLength == nil || uint64(n) > *s.MinLength) {
			s.MinLength = uint64Ptr(n)
		}
		if n, ok := r.MaxLen(); ok && (s.MaxLength == nil || uint64(n) < *s.MaxLength) {
			s.MaxLength = uint64Ptr(n)
		}
		if p := r.Pattern(); p != "" {
			if s.Pattern == "" {
				s.Pattern = p
			} else {
				s.AllOf = append(s.AllOf, &jsonschema.Schema{Pattern: p})
			}
		}
	}
	if len(chain[len(chain)-1].Transforms(typerule.BeforeSave)) != 0 {
		s.Description = "transformed before save"
	}
	return s
}

func indexes(specs []mapper.IndexSpec) []map[string]any {
	out := make([]map[string]any, len(specs))
	for i, idx := range specs {
		m := map[string]any{"field": idx.Field, "order": idx.Order}
		if idx.TTL > 0 {
			m["ttl_seconds"] = int64(idx.TTL / time.Second)
		}
		out[i] = m
	}
	return out
}

func uint64Ptr(n int) *uint64 {
	v := uint64(max(n, 0))
	return &v
}
