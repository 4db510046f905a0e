package jsonldb

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/maruel/docmap/internal/store"
)

// Table handles storage and in-memory caching for a single collection in
// JSONL format, one document per line.
type Table struct {
	path string
	mu   sync.RWMutex

	rows []store.Document
}

// NewTable creates a new Table and loads all documents from the file.
func NewTable(path string) (*Table, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	table := &Table{
		path: path,
	}

	if err := table.Reload(); err != nil {
		return nil, err
	}

	return table, nil
}

// Reload discards the in-memory rows and reads the file again.
func (t *Table) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []store.Document{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []store.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row store.Document
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.rows = rows
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// All returns an iterator over copies of all rows.
func (t *Table) All() iter.Seq[store.Document] {
	return func(yield func(store.Document) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			c, err := store.NormalizeDocument(row)
			if err != nil {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// View calls fn with the rows under the read lock. fn must not retain or
// mutate them.
func (t *Table) View(fn func(rows []store.Document)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.rows)
}

// Append adds a new row to the table and persists it. The row's _id must not
// already exist.
func (t *Table) Append(row store.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := row[store.IDField]
	for _, r := range t.rows {
		if store.Compare(r[store.IDField], id) == 0 {
			return fmt.Errorf("%w: %v", store.ErrDuplicateID, id)
		}
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	t.rows = append(t.rows, row)
	return nil
}

// Modify runs fn on a copy of the rows under the write lock. When fn returns
// changed rows they replace the table content and are persisted.
func (t *Table) Modify(fn func(rows []store.Document) ([]store.Document, bool, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]store.Document, len(t.rows))
	copy(rows, t.rows)
	next, changed, err := fn(rows)
	if err != nil || !changed {
		return err
	}
	if err := t.write(next); err != nil {
		return err
	}
	t.rows = next
	return nil
}

// write replaces the file content. The new content is written to a temporary
// file first so a crash cannot leave a truncated table behind.
func (t *Table) write(rows []store.Document) error {
	tmp := t.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	writer := bufio.NewWriter(f)
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	return nil
}
