package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
)

// LinkedArray is the accessor of a linked array field. Elements are stored in
// their own collection and carry the owner's identity in a foreign key field.
// They are read by query, ordered by identity.
type LinkedArray struct {
	owner *Document
	field *FieldRule
}

// relation resolves the element type and its foreign field rule.
func (a *LinkedArray) relation() (*Type, *ForeignFieldRule, error) {
	t, err := a.owner.typ.reg.resolve(a.field.SchemaName)
	if err != nil {
		return nil, nil, err
	}
	ff, ok := t.rule.ForeignField(a.field.Name)
	if !ok {
		return nil, nil, docerr.InvalidSchema(t.rule.Name, fmt.Sprintf("no link through %s.%s", a.owner.typ.rule.Name, a.field.Name))
	}
	return t, ff, nil
}

func (a *LinkedArray) selector(ff *ForeignFieldRule) store.Selector {
	return store.Selector{ff.ChildForeignIDField: a.owner.values[ff.ParentIDField]}
}

// Push adds an element, a *Document or a map of the element schema. The
// element's foreign key is set to the owner's identity and the element is
// saved by the owner's next Save.
func (a *LinkedArray) Push(elem any) error {
	t, ff, err := a.relation()
	if err != nil {
		return err
	}
	var d *Document
	switch v := elem.(type) {
	case *Document:
		if v.typ.rule != t.rule {
			return docerr.FieldInvalid(a.field.Name, fmt.Sprintf("element is a %s, want %s", v.typ.rule.Name, t.rule.Name))
		}
		d = v
	case map[string]any:
		if d, err = t.New(v); err != nil {
			return err
		}
	default:
		return docerr.FieldInvalid(a.field.Name, fmt.Sprintf("must be a document, got %T", elem))
	}
	if err := d.Set(ff.ChildForeignIDField, a.owner.values[ff.ParentIDField]); err != nil {
		return err
	}
	a.owner.changes.add(ChangeRecord{Kind: ChangePushLinked, Field: a.field.Name, Element: d})
	return nil
}

// Get returns the element at index i in identity order, or nil if there is
// none.
func (a *LinkedArray) Get(ctx context.Context, i int) (*Document, error) {
	t, ff, err := a.relation()
	if err != nil {
		return nil, err
	}
	coll, err := t.collection()
	if err != nil {
		return nil, err
	}
	doc, err := coll.FindOne(ctx, a.selector(ff), &store.FindOptions{SortBy: store.IDField, Skip: i})
	if err != nil || doc == nil {
		return nil, err
	}
	return t.build(doc, buildOptions{})
}

// Len returns the number of stored elements.
func (a *LinkedArray) Len(ctx context.Context) (int, error) {
	t, ff, err := a.relation()
	if err != nil {
		return 0, err
	}
	coll, err := t.collection()
	if err != nil {
		return 0, err
	}
	return coll.Count(ctx, a.selector(ff))
}

// GetAsync runs Get in a goroutine and reports the result to cb.
func (a *LinkedArray) GetAsync(ctx context.Context, i int, cb func(*Document, error)) error {
	if cb == nil {
		return docerr.MissingCallback("Get")
	}
	go func() {
		cb(a.Get(ctx, i))
	}()
	return nil
}

// LenAsync runs Len in a goroutine and reports the result to cb.
func (a *LinkedArray) LenAsync(ctx context.Context, cb func(int, error)) error {
	if cb == nil {
		return docerr.MissingCallback("Len")
	}
	go func() {
		cb(a.Len(ctx))
	}()
	return nil
}

// pending returns the elements pushed since the last save.
func (a *LinkedArray) pending() []*Document {
	var out []*Document
	for _, r := range a.owner.changes.snapshot() {
		if r.Kind == ChangePushLinked && r.Field == a.field.Name {
			out = append(out, r.Element)
		}
	}
	return out
}

// validate checks the elements pushed since the last save.
func (a *LinkedArray) validate(ctx context.Context) ([]*docerr.Error, error) {
	var out []*docerr.Error
	for i, elem := range a.pending() {
		list, err := elem.validateFields(ctx)
		if err != nil {
			return nil, err
		}
		prefix := fmt.Sprintf("%s.%d", a.field.Name, i)
		for _, e := range list {
			out = append(out, e.Prefixed(prefix))
		}
	}
	return out, nil
}

// saveLinked saves a pushed element after stamping the current identity of
// the owner.
func (d *Document) saveLinked(ctx context.Context, r ChangeRecord) error {
	a := d.Linked(r.Field)
	if a == nil {
		return docerr.UnknownField(d.typ.rule.Name, r.Field)
	}
	_, ff, err := a.relation()
	if err != nil {
		return err
	}
	if fk := d.values[ff.ParentIDField]; r.Element.values[ff.ChildForeignIDField] != fk {
		if err := r.Element.Set(ff.ChildForeignIDField, fk); err != nil {
			return err
		}
	}
	if err := r.Element.Save(ctx); err != nil {
		var l docerr.List
		if errors.As(err, &l) {
			return err
		}
		return fmt.Errorf("failed to save %s element %v: %w", r.Field, r.Element.ID(), err)
	}
	slog.DebugContext(ctx, "Saved linked element", "owner", d, "field", r.Field, "element", r.Element)
	return nil
}
