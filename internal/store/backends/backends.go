// Package backends opens a store.Database from a data source name.
//
// Supported forms:
//
//	mem:
//	jsonl:<directory>
//	sqlite:<file>
package backends

import (
	"fmt"
	"strings"

	"github.com/maruel/docmap/internal/jsonldb"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/store/memstore"
	"github.com/maruel/docmap/internal/store/sqlitestore"
)

// Open opens the database described by dsn.
func Open(dsn string) (store.Database, error) {
	scheme, rest, err := parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "jsonl":
		db, err := jsonldb.Open(rest)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := sqlitestore.Open(rest)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return memstore.New(), nil
	}
}

// Check validates dsn without opening it.
func Check(dsn string) error {
	_, _, err := parse(dsn)
	return err
}

func parse(dsn string) (string, string, error) {
	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok {
		return "", "", fmt.Errorf("invalid store %q: missing scheme", dsn)
	}
	// Accept both jsonl:dir and jsonl://dir.
	rest = strings.TrimPrefix(rest, "//")
	switch scheme {
	case "mem":
	case "jsonl":
		if rest == "" {
			return "", "", fmt.Errorf("invalid store %q: missing directory", dsn)
		}
	case "sqlite":
		if rest == "" {
			return "", "", fmt.Errorf("invalid store %q: missing file", dsn)
		}
	default:
		return "", "", fmt.Errorf("invalid store %q: unknown scheme %q", dsn, scheme)
	}
	return scheme, rest, nil
}
