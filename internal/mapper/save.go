package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/typerule"
	"golang.org/x/sync/errgroup"
)

// collection returns the store collection of the schema.
func (t *Type) collection() (store.Collection, error) {
	if t.rule.Storage.Kind == Unstored {
		return nil, docerr.InvalidSchema(t.rule.Name, "no collection declared")
	}
	db, err := t.reg.database()
	if err != nil {
		return nil, err
	}
	return db.Collection(t.rule.Storage.Collection), nil
}

// FindOne returns the first document matching sel, or nil if none matches.
//
// For schemas embedded in an array, sel applies to the array elements: the
// first matching element of the first matching top-level document is
// returned.
func (t *Type) FindOne(ctx context.Context, sel store.Selector) (*Document, error) {
	coll, err := t.collection()
	if err != nil {
		return nil, err
	}
	if t.rule.Storage.Kind == TopLevel {
		doc, err := coll.FindOne(ctx, sel, nil)
		if err != nil || doc == nil {
			return nil, err
		}
		return t.build(doc, buildOptions{})
	}
	field := t.rule.Storage.ArrayField
	doc, err := coll.FindOne(ctx, t.arraySelector(sel), nil)
	if err != nil || doc == nil {
		return nil, err
	}
	norm, err := store.NormalizeSelector(sel)
	if err != nil {
		return nil, err
	}
	items, _ := doc[field].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if match, _ := store.Match(m, norm); match {
			return t.build(m, buildOptions{parentID: doc[store.IDField]})
		}
	}
	return nil, nil
}

// Count returns the number of documents matching sel. For schemas embedded in
// an array, it counts the top-level documents holding a matching element.
func (t *Type) Count(ctx context.Context, sel store.Selector) (int, error) {
	coll, err := t.collection()
	if err != nil {
		return 0, err
	}
	if t.rule.Storage.Kind == EmbeddedInArray {
		sel = t.arraySelector(sel)
	}
	return coll.Count(ctx, sel)
}

func (t *Type) arraySelector(sel store.Selector) store.Selector {
	out := make(store.Selector, len(sel))
	for k, v := range sel {
		out[t.rule.Storage.ArrayField+"."+k] = v
	}
	return out
}

// Save validates the document and persists it: a new document is inserted,
// a stored one receives a single update combining every pending change.
// Elements pushed to linked arrays are saved alongside. Embedded array
// elements are saved by their owner.
func (d *Document) Save(ctx context.Context) error {
	if d.pos != nil {
		return d.pos.owner.Save(ctx)
	}
	coll, err := d.typ.collection()
	if err != nil {
		return err
	}
	if err := d.Validate(ctx); err != nil {
		return err
	}
	if d.isNew {
		if d.typ.rule.Storage.Kind == EmbeddedInArray {
			return docerr.InvalidSchema(d.typ.rule.Name, "new embedded documents are saved through their owner")
		}
		return d.create(ctx, coll)
	}
	return d.update(ctx, coll)
}

// create inserts a new document after running the create transforms.
func (d *Document) create(ctx context.Context, coll store.Collection) error {
	fields := d.typ.rule.Fields
	values := make([]any, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fields {
		if f.IsArray || f.Rule == nil {
			continue
		}
		v := d.values[f.Name]
		if v == nil && f.Generated {
			v = generate(f.Rule.Base())
		}
		if v == nil {
			continue
		}
		g.Go(func() error {
			out, err := applyStages(gctx, f.Rule, v, typerule.BeforeSave, typerule.BeforeCreate)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			values[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, f := range fields {
		if values[i] != nil {
			d.values[f.Name] = values[i]
		}
	}
	var linked []ChangeRecord
	for _, r := range d.changes.drain() {
		if r.Kind == ChangePushLinked {
			linked = append([]ChangeRecord{r}, linked...)
		}
	}
	if err := coll.Insert(ctx, d.values); err != nil {
		d.changes.restore(linked)
		return fmt.Errorf("failed to insert %s %v: %w", d.typ.rule.Name, d.ID(), err)
	}
	d.isNew = false
	slog.DebugContext(ctx, "Inserted document", "doc", d)
	if len(linked) == 0 {
		return nil
	}
	g, gctx = errgroup.WithContext(ctx)
	for _, r := range linked {
		g.Go(func() error {
			return d.saveLinked(gctx, r)
		})
	}
	return g.Wait()
}

// generate returns a value for an absent generated field.
func generate(base typerule.BaseType) any {
	switch base {
	case typerule.ID:
		return newID()
	case typerule.Time:
		return time.Now().UTC()
	default:
		return nil
	}
}

func applyStages(ctx context.Context, r *typerule.Rule, v any, stages ...typerule.Stage) (any, error) {
	for _, s := range stages {
		var err error
		if v, err = r.Apply(ctx, s, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Destroy removes the document from its collection.
func (d *Document) Destroy(ctx context.Context) error {
	if d.pos != nil || d.typ.rule.Storage.Kind == EmbeddedInArray {
		return docerr.InvalidSchema(d.typ.rule.Name, "embedded documents are removed through their owner")
	}
	coll, err := d.typ.collection()
	if err != nil {
		return err
	}
	n, err := coll.Remove(ctx, store.Selector{store.IDField: d.ID()})
	if err != nil {
		return fmt.Errorf("failed to remove %s %v: %w", d.typ.rule.Name, d.ID(), err)
	}
	if n == 0 {
		return docerr.NotFound(d.typ.rule.Storage.Collection, d.ID())
	}
	slog.DebugContext(ctx, "Removed document", "doc", d)
	return nil
}
