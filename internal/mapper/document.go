package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/typerule"
	"github.com/maruel/ksid"
)

// FieldView is returned by Get for fields whose rule carries decorations.
type FieldView = typerule.FieldView

// Type is a defined schema: the factory of its documents.
type Type struct {
	reg  *Registry
	rule *SchemaRule
}

// Name returns the schema name.
func (t *Type) Name() string {
	return t.rule.Name
}

// Schema returns the compiled schema.
func (t *Type) Schema() *SchemaRule {
	return t.rule
}

// Registry returns the registry the schema is defined in.
func (t *Type) Registry() *Registry {
	return t.reg
}

// New constructs a document from values. A document without "_id" is new
// and receives a fresh identity. Every declared non-array field must be
// present.
func (t *Type) New(values map[string]any) (*Document, error) {
	v := maps.Clone(values)
	if v == nil {
		v = map[string]any{}
	}
	return t.build(v, buildOptions{})
}

// MustNew is like New but panics on error.
func (t *Type) MustNew(values map[string]any) *Document {
	d, err := t.New(values)
	if err != nil {
		panic(err)
	}
	return d
}

type buildOptions struct {
	changes  *changeLog
	pos      *position
	parentID any
}

// position locates an embedded array element within its owner.
type position struct {
	owner *Document
	field string
	index int
}

// build constructs a document that takes ownership of values.
func (t *Type) build(values map[string]any, opts buildOptions) (*Document, error) {
	d := &Document{
		typ:      t,
		values:   values,
		changes:  opts.changes,
		pos:      opts.pos,
		parentID: opts.parentID,
	}
	if d.changes == nil {
		d.changes = &changeLog{}
	}
	if id, ok := values[store.IDField]; !ok || id == nil {
		values[store.IDField] = newID()
		d.isNew = true
	}
	for _, f := range t.rule.Fields {
		v, ok := values[f.Name]
		switch {
		case f.Linked:
			// Linked elements live in their own collection.
			delete(values, f.Name)
		case f.Embedded:
			elems, err := normalizeElements(f.Name, v)
			if err != nil {
				return nil, err
			}
			values[f.Name] = elems
		case f.Generated:
		case !ok || v == nil:
			return nil, docerr.MissingField(f.Name)
		case f.SchemaName != "":
			if sub, isDoc := v.(*Document); isDoc {
				values[f.Name] = maps.Clone(sub.values)
			}
		default:
			values[f.Name] = typerule.Unwrap(v)
		}
	}
	return d, nil
}

func newID() string {
	return ksid.NewID().String()
}

// normalizeElements converts the accepted embedded array forms to []any of
// element maps, each carrying an identity.
func normalizeElements(field string, v any) ([]any, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		items = t
	case []map[string]any:
		items = make([]any, len(t))
		for i, m := range t {
			items[i] = m
		}
	case []*Document:
		items = make([]any, len(t))
		for i, d := range t {
			items[i] = d
		}
	default:
		return nil, docerr.FieldInvalid(field, fmt.Sprintf("must be an array, got %T", v))
	}
	out := make([]any, len(items))
	for i, item := range items {
		m, err := elementValues(item)
		if err != nil {
			return nil, docerr.FieldInvalid(fmt.Sprintf("%s.%d", field, i), err.Error())
		}
		out[i] = m
	}
	return out, nil
}

// elementValues returns the stored form of an embedded element.
func elementValues(v any) (map[string]any, error) {
	var m map[string]any
	switch t := v.(type) {
	case *Document:
		m = maps.Clone(t.values)
	case map[string]any:
		m = t
	default:
		return nil, fmt.Errorf("must be a document, got %T", v)
	}
	if id, ok := m[store.IDField]; !ok || id == nil {
		m[store.IDField] = newID()
	}
	return m, nil
}

// Document is an instance of a schema with change tracking.
//
// A Document is not safe for concurrent mutation.
type Document struct {
	typ    *Type
	values map[string]any
	isNew  bool
	// changes is shared with the embedded elements read from this document.
	changes *changeLog
	// pos is set for embedded array elements.
	pos *position
	// parentID is the identity of the top-level document holding this one,
	// for documents loaded from an embedded-in-array schema.
	parentID any
}

// Type returns the document's schema.
func (d *Document) Type() *Type {
	return d.typ
}

// ID returns the document identity.
func (d *Document) ID() any {
	return d.values[store.IDField]
}

// IsNew returns true until the document is first inserted.
func (d *Document) IsNew() bool {
	return d.isNew
}

// Get reads a field. Embedded array fields return an *EmbeddedArray, linked
// array fields a *LinkedArray, and fields whose rule has decorations a
// FieldView. Unknown fields return nil.
func (d *Document) Get(field string) any {
	if field == store.IDField {
		return d.ID()
	}
	f, ok := d.typ.rule.Field(field)
	if !ok {
		return d.values[field]
	}
	switch {
	case f.Embedded:
		return d.Embedded(field)
	case f.Linked:
		return d.Linked(field)
	}
	v := d.values[field]
	if view, ok := typerule.View(field, v, f.Rule); ok {
		return view
	}
	return v
}

// Embedded returns the embedded array accessor of field, or nil if field is
// not an embedded array.
func (d *Document) Embedded(field string) *EmbeddedArray {
	f, ok := d.typ.rule.Field(field)
	if !ok || !f.Embedded {
		return nil
	}
	return &EmbeddedArray{owner: d, field: f}
}

// Linked returns the linked array accessor of field, or nil if field is not a
// linked array.
func (d *Document) Linked(field string) *LinkedArray {
	f, ok := d.typ.rule.Field(field)
	if !ok || !f.Linked {
		return nil
	}
	return &LinkedArray{owner: d, field: f}
}

// Set writes a field and records the change. FieldView values are unwrapped.
// The foreign key fields of linked schemas are writable too.
func (d *Document) Set(field string, value any) error {
	value = typerule.Unwrap(value)
	if field == store.IDField {
		return docerr.FieldInvalid(field, "is read-only")
	}
	var rule *typerule.Rule
	f, declared := d.typ.rule.Field(field)
	switch {
	case declared && f.Linked:
		return docerr.FieldInvalid(field, "is a linked array, use Push")
	case declared && f.Embedded:
		elems, err := normalizeElements(field, value)
		if err != nil {
			return err
		}
		value = elems
	case declared:
		rule = f.Rule
		if sub, ok := value.(*Document); ok && f.SchemaName != "" {
			value = maps.Clone(sub.values)
		}
	default:
		if _, ok := d.typ.rule.foreignByChildField(field); !ok {
			return docerr.UnknownField(d.typ.rule.Name, field)
		}
	}
	d.values[field] = value
	d.record(field, value, rule)
	return nil
}

func (d *Document) record(field string, value any, rule *typerule.Rule) {
	r := ChangeRecord{Kind: ChangeSet, Field: field, Value: value, rule: rule}
	switch {
	case d.pos != nil:
		r.Kind = ChangeSetInArray
		r.Container = d.pos.field
		r.OwnerID = d.ID()
	case d.typ.rule.Storage.Kind == EmbeddedInArray && d.parentID != nil:
		r.Kind = ChangeSetInArray
		r.Container = d.typ.rule.Storage.ArrayField
		r.OwnerID = d.ID()
	}
	d.changes.add(r)
}

// Values returns a shallow copy of the stored form of the document.
func (d *Document) Values() map[string]any {
	return maps.Clone(d.values)
}

// Pending returns the changes recorded since the last save, oldest first.
func (d *Document) Pending() []ChangeRecord {
	return d.changes.snapshot()
}

// Call invokes a method attached with Extend.
func (d *Document) Call(method string, args ...any) (any, error) {
	for _, e := range d.typ.rule.Extensions {
		if e.Method == method {
			return e.Func(d, args...)
		}
	}
	return nil, fmt.Errorf("schema %s has no method %s", d.typ.rule.Name, method)
}

// Related returns the parent document exposed under name by a LinkedTo
// declaration, or nil if it does not exist.
func (d *Document) Related(ctx context.Context, name string) (*Document, error) {
	ff, ok := d.typ.rule.foreignByExposed(name)
	if !ok {
		return nil, docerr.UnknownField(d.typ.rule.Name, name)
	}
	parent, err := d.typ.reg.resolve(ff.RelatedSchema)
	if err != nil {
		return nil, err
	}
	fk := d.values[ff.ChildForeignIDField]
	if fk == nil {
		return nil, nil
	}
	return parent.FindOne(ctx, store.Selector{ff.ParentIDField: fk})
}

// String implements fmt.Stringer.
func (d *Document) String() string {
	return fmt.Sprintf("%s(%v)", d.typ.rule.Name, d.ID())
}

// LogValue implements slog.LogValuer.
func (d *Document) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("schema", d.typ.rule.Name),
		slog.Any("id", d.ID()),
		slog.Bool("new", d.isNew),
	)
}
