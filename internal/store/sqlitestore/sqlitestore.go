// Package sqlitestore implements store.Database on top of SQLite.
//
// Documents of every collection live in a single table as JSON text, keyed by
// (collection, _id). Selectors are evaluated in Go with the same semantics as
// the other backends; lookups by _id alone use the primary key.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/maruel/docmap/internal/store"
	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	UNIQUE (collection, id)
)`

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// Open creates a new SQLite database connection and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Collection implements store.Database.
func (d *DB) Collection(name string) store.Collection {
	return &collection{db: d.db, name: name}
}

// Close implements store.Database.
func (d *DB) Close() error {
	return d.db.Close()
}

type row struct {
	seq int64
	doc store.Document
}

type collection struct {
	db   *sql.DB
	name string
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// idKey returns the primary key form of an _id value.
func idKey(id any) (string, error) {
	if s, ok := id.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// load returns the candidate rows for sel, in insertion order.
func (c *collection) load(ctx context.Context, q querier, sel store.Selector) ([]row, error) {
	query := "SELECT seq, doc FROM documents WHERE collection = ?"
	args := []any{c.name}
	if id, ok := sel[store.IDField]; ok && id != nil {
		key, err := idKey(id)
		if err != nil {
			return nil, err
		}
		query += " AND id = ?"
		args = append(args, key)
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []row
	for rows.Next() {
		var r row
		var data string
		if err := rows.Scan(&r.seq, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &r.doc); err != nil {
			return nil, fmt.Errorf("decode document %d: %w", r.seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func docs(rows []row) []store.Document {
	out := make([]store.Document, len(rows))
	for i := range rows {
		out[i] = rows[i].doc
	}
	return out
}

func (c *collection) FindOne(ctx context.Context, sel store.Selector, opts *store.FindOptions) (store.Document, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return nil, err
	}
	rows, err := c.load(ctx, c.db, sel)
	if err != nil {
		return nil, err
	}
	idx, _ := store.Select(docs(rows), sel, opts)
	if len(idx) == 0 {
		return nil, nil
	}
	return rows[idx[0]].doc, nil
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
	key, err := idKey(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = c.db.ExecContext(ctx, "INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?)", c.name, key, string(data))
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", store.ErrDuplicateID, id)
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, sel store.Selector, upd store.Update) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	if upd, err = store.NormalizeUpdate(upd); err != nil {
		return 0, err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := c.load(ctx, tx, sel)
	if err != nil {
		return 0, err
	}
	idx, positions := store.Select(docs(rows), sel, nil)
	if len(idx) == 0 {
		return 0, nil
	}
	target := rows[idx[0]]
	if err := store.Apply(target.doc, positions[0], upd); err != nil {
		return 0, err
	}
	data, err := json.Marshal(target.doc)
	if err != nil {
		return 0, fmt.Errorf("encode document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET doc = ? WHERE seq = ?", string(data), target.seq); err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return 1, nil
}

func (c *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := c.load(ctx, tx, sel)
	if err != nil {
		return 0, err
	}
	idx, _ := store.Select(docs(rows), sel, nil)
	for _, i := range idx {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE seq = ?", rows[i].seq); err != nil {
			return 0, fmt.Errorf("delete document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(idx), nil
}

func (c *collection) Count(ctx context.Context, sel store.Selector) (int, error) {
	sel, err := store.NormalizeSelector(sel)
	if err != nil {
		return 0, err
	}
	rows, err := c.load(ctx, c.db, sel)
	if err != nil {
		return 0, err
	}
	idx, _ := store.Select(docs(rows), sel, nil)
	return len(idx), nil
}
