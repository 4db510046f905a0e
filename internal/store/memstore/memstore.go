// Package memstore implements an in-memory store.Database.
//
// Every operation is recorded so tests can assert on the exact persistence
// calls issued by the mapper.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/maruel/docmap/internal/store"
)

// Op names recorded in Call.Op.
const (
	OpFindOne = "findOne"
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpRemove  = "remove"
	OpCount   = "count"
)

// Call is a recorded collection operation.
type Call struct {
	Collection string
	Op         string
	Selector   store.Selector
	Update     store.Update
	Document   store.Document
}

// DB is an in-memory database.
type DB struct {
	mu          sync.Mutex
	collections map[string][]store.Document
	calls       []Call
	closed      bool
}

// New returns an empty database.
func New() *DB {
	return &DB{collections: make(map[string][]store.Document)}
}

// Collection implements store.Database.
func (db *DB) Collection(name string) store.Collection {
	return &collection{db: db, name: name}
}

// Close implements store.Database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// Calls returns a copy of every recorded call.
func (db *DB) Calls() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.calls)
}

// CallsTo returns the recorded calls with the given op.
func (db *DB) CallsTo(op string) []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []Call
	for _, c := range db.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets every recorded call.
func (db *DB) ResetCalls() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = nil
}

// Documents returns a copy of the documents in a collection.
func (db *DB) Documents(name string) []store.Document {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]store.Document, 0, len(db.collections[name]))
	for _, d := range db.collections[name] {
		c, _ := store.NormalizeDocument(d)
		out = append(out, c)
	}
	return out
}

type collection struct {
	db   *DB
	name string
}

func (c *collection) record(call Call) error {
	if c.db.closed {
		return store.ErrClosed
	}
	call.Collection = c.name
	c.db.calls = append(c.db.calls, call)
	return nil
}

func (c *collection) FindOne(ctx context.Context, sel store.Selector, opts *store.FindOptions) (store.Document, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.record(Call{Op: OpFindOne, Selector: sel}); err != nil {
		return nil, err
	}
	docs := c.db.collections[c.name]
	idx, _ := store.Select(docs, sel, opts)
	if len(idx) == 0 {
		return nil, nil
	}
	return store.NormalizeDocument(docs[idx[0]])
}

func (c *collection) Insert(ctx context.Context, doc store.Document) error {
	doc, err := store.NormalizeDocument(doc)
	if err != nil {
		return err
	}
	id, ok := doc[store.IDField]
	if !ok || id == nil {
		return store.ErrMissingID
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.record(Call{Op: OpInsert, Document: doc}); err != nil {
		return err
	}
	for _, d := range c.db.collections[c.name] {
		if store.Compare(d[store.IDField], id) == 0 {
			return fmt.Errorf("%w: %v", store.ErrDuplicateID, id)
		}
	}
	c.db.collections[c.name] = append(c.db.collections[c.name], doc)
	return nil
}

func (c *collection) Update(ctx context.Context, sel store.Selector, upd store.Update) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	upd, err = store.NormalizeUpdate(upd)
	if err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.record(Call{Op: OpUpdate, Selector: sel, Update: upd}); err != nil {
		return 0, err
	}
	docs := c.db.collections[c.name]
	idx, positions := store.Select(docs, sel, nil)
	if len(idx) == 0 {
		return 0, nil
	}
	// Apply to a copy so a failing update leaves the stored document intact.
	updated, err := store.NormalizeDocument(docs[idx[0]])
	if err != nil {
		return 0, err
	}
	if err := store.Apply(updated, positions[0], upd); err != nil {
		return 0, err
	}
	docs[idx[0]] = updated
	return 1, nil
}

func (c *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.record(Call{Op: OpRemove, Selector: sel}); err != nil {
		return 0, err
	}
	docs := c.db.collections[c.name]
	kept := docs[:0:0]
	for _, d := range docs {
		if ok, _ := store.Match(d, sel); !ok {
			kept = append(kept, d)
		}
	}
	c.db.collections[c.name] = kept
	return len(docs) - len(kept), nil
}

func (c *collection) Count(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.record(Call{Op: OpCount, Selector: sel}); err != nil {
		return 0, err
	}
	idx, _ := store.Select(c.db.collections[c.name], sel, nil)
	return len(idx), nil
}
