package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/typerule"
	"golang.org/x/sync/errgroup"
)

// update drains the pending changes of a stored document and persists them
// with one combined update. The latest write to a path wins. Elements pushed
// to linked arrays are saved concurrently with the update transforms; the
// update is issued once all of them succeeded.
func (d *Document) update(ctx context.Context, coll store.Collection) error {
	drained := d.changes.drain()
	if len(drained) == 0 {
		return nil
	}
	chronological := slices.Clone(drained)
	slices.Reverse(chronological)

	var sets, pushes, linked []ChangeRecord
	seen := map[targetKey]bool{}
	replaced := map[string]bool{}
	for _, r := range drained {
		switch r.Kind {
		case ChangePushLinked:
			linked = append(linked, r)
		case ChangePushToArray:
			pushes = append(pushes, r)
		default:
			k := r.target()
			if seen[k] {
				continue
			}
			seen[k] = true
			sets = append(sets, r)
			if r.Kind == ChangeSet {
				if f, ok := d.typ.rule.Field(r.Field); ok && f.Embedded {
					replaced[r.Field] = true
				}
			}
		}
	}
	slices.Reverse(sets)
	slices.Reverse(pushes)
	slices.Reverse(linked)

	values := make([]any, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range sets {
		values[i] = r.Value
		if r.rule == nil || r.Value == nil {
			continue
		}
		g.Go(func() error {
			v, err := applyStages(gctx, r.rule, r.Value, typerule.BeforeSave, typerule.BeforeUpdate)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Field, err)
			}
			values[i] = v
			return nil
		})
	}
	for _, r := range linked {
		g.Go(func() error {
			return d.saveLinked(gctx, r)
		})
	}
	if err := g.Wait(); err != nil {
		d.changes.restore(chronological)
		return err
	}

	sel, upd := d.compile(sets, values, pushes, replaced)
	if upd.IsEmpty() {
		return nil
	}
	n, err := coll.Update(ctx, sel, upd)
	if err != nil {
		d.changes.restore(chronological)
		return fmt.Errorf("failed to update %s %v: %w", d.typ.rule.Name, d.ID(), err)
	}
	if n == 0 {
		d.changes.restore(chronological)
		return docerr.UpdateFailed(d.ID())
	}
	slog.DebugContext(ctx, "Updated document", "doc", d, "set", len(upd.Set), "push", len(upd.Push))
	return nil
}

type elementKey struct {
	container string
	id        any
}

// compile merges the surviving records into one selector and update. The
// first embedded element written is addressed with the positional operator;
// other elements are addressed through array filters on their identity.
func (d *Document) compile(sets []ChangeRecord, values []any, pushes []ChangeRecord, replaced map[string]bool) (store.Selector, store.Update) {
	id := d.ID()
	if d.parentID != nil {
		id = d.parentID
	}
	sel := store.Selector{store.IDField: id}
	upd := store.Update{}
	var positional *elementKey
	filters := map[elementKey]string{}
	// Elements pushed in this save are written whole by the $push.
	pushed := map[elementKey]bool{}
	for _, r := range pushes {
		if m, ok := r.Value.(map[string]any); ok {
			pushed[elementKey{container: r.Field, id: m[store.IDField]}] = true
		}
	}
	for i, r := range sets {
		v := values[i]
		switch r.Kind {
		case ChangeSet:
			if replaced[r.Field] {
				// Later pushes and element writes already went to the current array.
				v = d.values[r.Field]
			}
			if upd.Set == nil {
				upd.Set = map[string]any{}
			}
			upd.Set[r.Field] = v
			d.values[r.Field] = v
		case ChangeSetInArray:
			if replaced[r.Container] {
				continue
			}
			k := elementKey{container: r.Container, id: r.OwnerID}
			if pushed[k] {
				d.setElementValue(r.Container, r.OwnerID, r.Field, v)
				continue
			}
			var path string
			switch {
			case positional == nil:
				positional = &k
				sel[r.Container+"."+store.IDField] = r.OwnerID
				path = r.Container + ".$." + r.Field
			case *positional == k:
				path = r.Container + ".$." + r.Field
			default:
				name, ok := filters[k]
				if !ok {
					name = fmt.Sprintf("e%d", len(filters))
					filters[k] = name
					if upd.ArrayFilters == nil {
						upd.ArrayFilters = map[string]store.Selector{}
					}
					upd.ArrayFilters[name] = store.Selector{store.IDField: r.OwnerID}
				}
				path = r.Container + ".$[" + name + "]." + r.Field
			}
			if upd.Set == nil {
				upd.Set = map[string]any{}
			}
			upd.Set[path] = v
			d.setElementValue(r.Container, r.OwnerID, r.Field, v)
		}
	}
	for _, r := range pushes {
		if replaced[r.Field] {
			continue
		}
		if upd.Push == nil {
			upd.Push = map[string][]any{}
		}
		upd.Push[r.Field] = append(upd.Push[r.Field], r.Value)
	}
	return sel, upd
}

// setElementValue writes back a transformed element value.
func (d *Document) setElementValue(container string, id any, field string, v any) {
	if d.parentID != nil && container == d.typ.rule.Storage.ArrayField && id == d.ID() {
		d.values[field] = v
		return
	}
	items, _ := d.values[container].([]any)
	for _, item := range items {
		if m, ok := item.(map[string]any); ok && m[store.IDField] == id {
			m[field] = v
			return
		}
	}
}
