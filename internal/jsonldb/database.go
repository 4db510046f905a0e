// Package jsonldb provides a concurrent-safe, JSONL-backed document store.
//
// Each collection is a file named <collection>.jsonl inside the database
// directory, holding one JSON document per line with full in-memory caching
// for fast reads. Mutations other than inserts rewrite the file atomically.
package jsonldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maruel/docmap/internal/store"
)

const fileExt = ".jsonl"

// Database is a directory of collections.
type Database struct {
	dir string

	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// Open opens (creating if needed) the database stored in dir.
func Open(dir string) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return &Database{dir: dir, tables: make(map[string]*Table)}, nil
}

// Dir returns the database directory.
func (db *Database) Dir() string {
	return db.dir
}

// Collection implements store.Database.
func (db *Database) Collection(name string) store.Collection {
	return &collection{db: db, name: name}
}

// Close implements store.Database.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.tables = map[string]*Table{}
	return nil
}

func (db *Database) table(name string) (*Table, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, store.ErrClosed
	}
	if t := db.tables[name]; t != nil {
		return t, nil
	}
	t, err := NewTable(filepath.Join(db.dir, name+fileExt))
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	return t, nil
}

// loaded returns the table if it was already opened.
func (db *Database) loaded(name string) *Table {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tables[name]
}

type collection struct {
	db   *Database
	name string
}

func (c *collection) FindOne(ctx context.Context, sel store.Selector, opts *store.FindOptions) (store.Document, error) {
	t, err := c.db.table(c.name)
	if err != nil {
		return nil, err
	}
	if sel, err = store.NormalizeSelector(sel); err != nil {
		return nil, err
	}
	var found store.Document
	t.View(func(rows []store.Document) {
		if idx, _ := store.Select(rows, sel, opts); len(idx) > 0 {
			found = rows[idx[0]]
		}
	})
	if found == nil {
		return nil, nil
	}
	return store.NormalizeDocument(found)
}

func (c *collection) Insert(ctx context.Context, doc store.Document) error {
	t, err := c.db.table(c.name)
	if err != nil {
		return err
	}
	if doc, err = store.NormalizeDocument(doc); err != nil {
		return err
	}
	if id, ok := doc[store.IDField]; !ok || id == nil {
		return store.ErrMissingID
	}
	return t.Append(doc)
}

func (c *collection) Update(ctx context.Context, sel store.Selector, upd store.Update) (int, error) {
	t, err := c.db.table(c.name)
	if err != nil {
		return 0, err
	}
	if sel, err = store.NormalizeSelector(sel); err != nil {
		return 0, err
	}
	if upd, err = store.NormalizeUpdate(upd); err != nil {
		return 0, err
	}
	matched := 0
	err = t.Modify(func(rows []store.Document) ([]store.Document, bool, error) {
		idx, positions := store.Select(rows, sel, nil)
		if len(idx) == 0 {
			return nil, false, nil
		}
		updated, err := store.NormalizeDocument(rows[idx[0]])
		if err != nil {
			return nil, false, err
		}
		if err := store.Apply(updated, positions[0], upd); err != nil {
			return nil, false, err
		}
		rows[idx[0]] = updated
		matched = 1
		return rows, true, nil
	})
	return matched, err
}

func (c *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	t, err := c.db.table(c.name)
	if err != nil {
		return 0, err
	}
	if sel, err = store.NormalizeSelector(sel); err != nil {
		return 0, err
	}
	removed := 0
	err = t.Modify(func(rows []store.Document) ([]store.Document, bool, error) {
		kept := make([]store.Document, 0, len(rows))
		for _, r := range rows {
			if ok, _ := store.Match(r, sel); !ok {
				kept = append(kept, r)
			}
		}
		removed = len(rows) - len(kept)
		return kept, removed > 0, nil
	})
	return removed, err
}

func (c *collection) Count(ctx context.Context, sel store.Selector) (int, error) {
	t, err := c.db.table(c.name)
	if err != nil {
		return 0, err
	}
	if sel, err = store.NormalizeSelector(sel); err != nil {
		return 0, err
	}
	n := 0
	t.View(func(rows []store.Document) {
		idx, _ := store.Select(rows, sel, nil)
		n = len(idx)
	})
	return n, nil
}
