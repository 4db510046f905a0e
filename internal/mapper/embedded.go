package mapper

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/maruel/docmap/internal/docerr"
	"golang.org/x/sync/errgroup"
)

// EmbeddedArray is the accessor of an embedded array field. Elements are
// stored inside the owning document; writes to an element are recorded in the
// owner's changes and persisted by the owner's Save.
type EmbeddedArray struct {
	owner *Document
	field *FieldRule
}

func (a *EmbeddedArray) raw() []any {
	items, _ := a.owner.values[a.field.Name].([]any)
	return items
}

func (a *EmbeddedArray) elementType() (*Type, error) {
	return a.owner.typ.reg.resolve(a.field.SchemaName)
}

// Len returns the number of elements.
func (a *EmbeddedArray) Len() int {
	return len(a.raw())
}

// Get returns the element at index i.
func (a *EmbeddedArray) Get(i int) (*Document, error) {
	items := a.raw()
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("%s: index %d out of range [0:%d]", a.field.Name, i, len(items))
	}
	m, ok := items[i].(map[string]any)
	if !ok {
		return nil, docerr.FieldInvalid(fmt.Sprintf("%s.%d", a.field.Name, i), fmt.Sprintf("must be a document, got %T", items[i]))
	}
	t, err := a.elementType()
	if err != nil {
		return nil, err
	}
	return t.build(m, buildOptions{
		changes: a.owner.changes,
		pos:     &position{owner: a.owner, field: a.field.Name, index: i},
	})
}

// All iterates over the elements. It stops at the first element that cannot
// be read.
func (a *EmbeddedArray) All() iter.Seq2[int, *Document] {
	return func(yield func(int, *Document) bool) {
		for i := range a.Len() {
			d, err := a.Get(i)
			if err != nil || !yield(i, d) {
				return
			}
		}
	}
}

// Push appends an element, a *Document or a map. On a stored owner the
// append is recorded and persisted by the owner's next Save.
func (a *EmbeddedArray) Push(elem any) error {
	m, err := elementValues(elem)
	if err != nil {
		return docerr.FieldInvalid(a.field.Name, err.Error())
	}
	a.owner.values[a.field.Name] = append(a.raw(), m)
	if !a.owner.isNew {
		a.owner.changes.add(ChangeRecord{Kind: ChangePushToArray, Field: a.field.Name, Value: m})
	}
	return nil
}

// validate checks the cardinality and every element. Element errors are
// prefixed with "field.index".
func (a *EmbeddedArray) validate(ctx context.Context) ([]*docerr.Error, error) {
	n := a.Len()
	var out []*docerr.Error
	if (a.field.CardinalityMin >= 0 && n < a.field.CardinalityMin) ||
		(a.field.CardinalityMax >= 0 && n > a.field.CardinalityMax) {
		out = append(out, docerr.CardinalityViolation(a.field.Name, n, max(a.field.CardinalityMin, 0), a.field.CardinalityMax))
	}
	if n == 0 {
		return out, nil
	}
	t, err := a.elementType()
	if err != nil {
		return nil, err
	}
	items := a.raw()
	results := make([][]*docerr.Error, n)
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			prefix := fmt.Sprintf("%s.%d", a.field.Name, i)
			m, ok := item.(map[string]any)
			if !ok {
				results[i] = []*docerr.Error{docerr.FieldInvalid(prefix, fmt.Sprintf("must be a document, got %T", item))}
				return nil
			}
			elem, err := t.build(m, buildOptions{
				changes: a.owner.changes,
				pos:     &position{owner: a.owner, field: a.field.Name, index: i},
			})
			if err != nil {
				var e *docerr.Error
				if !errors.As(err, &e) {
					return err
				}
				results[i] = []*docerr.Error{e.Prefixed(prefix)}
				return nil
			}
			list, err := elem.validateFields(ctx)
			if err != nil {
				return err
			}
			for _, e := range list {
				results[i] = append(results[i], e.Prefixed(prefix))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
