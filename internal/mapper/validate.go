package mapper

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/typerule"
	"golang.org/x/sync/errgroup"
)

// Validate checks every declared field concurrently. It returns nil when the
// document is valid, a docerr.List with every failure in declaration order
// otherwise, or the context error if ctx is done first.
func (d *Document) Validate(ctx context.Context) error {
	list, err := d.validateFields(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	return docerr.List(list)
}

func (d *Document) validateFields(ctx context.Context) ([]*docerr.Error, error) {
	fields := d.typ.rule.Fields
	results := make([][]*docerr.Error, len(fields))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range fields {
		g.Go(func() error {
			errs, err := d.validateField(ctx, f)
			results[i] = errs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*docerr.Error
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (d *Document) validateField(ctx context.Context, f *FieldRule) ([]*docerr.Error, error) {
	switch {
	case f.Generated:
		return nil, nil
	case f.Embedded:
		return d.Embedded(f.Name).validate(ctx)
	case f.Linked:
		return d.Linked(f.Name).validate(ctx)
	case f.SchemaName != "":
		return d.validateSubDocument(ctx, f)
	}
	value := d.values[f.Name]
	if len(f.Rules) == 1 {
		e, err := runRule(ctx, f.Rules[0], f.Name, value)
		if e == nil || err != nil {
			return nil, err
		}
		return []*docerr.Error{e}, nil
	}
	results := make([]*docerr.Error, len(f.Rules))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range f.Rules {
		g.Go(func() error {
			e, err := runRule(ctx, r, f.Name, value)
			results[i] = e
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*docerr.Error
	for _, e := range results {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *Document) validateSubDocument(ctx context.Context, f *FieldRule) ([]*docerr.Error, error) {
	m, ok := d.values[f.Name].(map[string]any)
	if !ok {
		return []*docerr.Error{docerr.FieldInvalid(f.Name, fmt.Sprintf("must be a document, got %T", d.values[f.Name]))}, nil
	}
	t, err := d.typ.reg.resolve(f.SchemaName)
	if err != nil {
		return nil, err
	}
	sub, err := t.build(maps.Clone(m), buildOptions{})
	if err != nil {
		var e *docerr.Error
		if errors.As(err, &e) {
			return []*docerr.Error{e.Prefixed(f.Name)}, nil
		}
		return nil, err
	}
	list, err := sub.validateFields(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*docerr.Error, len(list))
	for i, e := range list {
		out[i] = e.Prefixed(f.Name)
	}
	return out, nil
}

// runRule runs one rule and waits for its result. The continuation handed to
// asynchronous validators only honors its first call.
func runRule(ctx context.Context, r *typerule.Rule, field string, value any) (*docerr.Error, error) {
	if !r.IsAsync() {
		return asFieldError(field, r.Validate(field, value)), nil
	}
	ch := make(chan error, 1)
	var once sync.Once
	r.ValidateAsync(ctx, field, value, func(err error) {
		once.Do(func() { ch <- err })
	})
	select {
	case err := <-ch:
		return asFieldError(field, err), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func asFieldError(field string, err error) *docerr.Error {
	if err == nil {
		return nil
	}
	var e *docerr.Error
	if errors.As(err, &e) && e.Kind() == docerr.KindFieldInvalid {
		return e
	}
	return docerr.FieldInvalid(field, "invalid value").Wrap(err)
}
