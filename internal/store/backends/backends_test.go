package backends

import (
	"path/filepath"
	"testing"

	"github.com/maruel/docmap/internal/jsonldb"
	"github.com/maruel/docmap/internal/store/memstore"
	"github.com/maruel/docmap/internal/store/sqlitestore"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			dsn   string
			check func(any) bool
		}{
			{"mem:", func(v any) bool { _, ok := v.(*memstore.DB); return ok }},
			{"jsonl:" + filepath.Join(dir, "data"), func(v any) bool { _, ok := v.(*jsonldb.Database); return ok }},
			{"jsonl://" + filepath.Join(dir, "data2"), func(v any) bool { _, ok := v.(*jsonldb.Database); return ok }},
			{"sqlite:" + filepath.Join(dir, "x.db"), func(v any) bool { _, ok := v.(*sqlitestore.DB); return ok }},
		}
		for _, tt := range tests {
			t.Run(tt.dsn, func(t *testing.T) {
				db, err := Open(tt.dsn)
				if err != nil {
					t.Fatal(err)
				}
				defer func() { _ = db.Close() }()
				if !tt.check(db) {
					t.Errorf("unexpected type %T", db)
				}
			})
		}
	})
	t.Run("invalid", func(t *testing.T) {
		for _, dsn := range []string{"", "nope", "jsonl:", "sqlite:", "mongodb://localhost"} {
			if _, err := Open(dsn); err == nil {
				t.Errorf("Open(%q) succeeded", dsn)
			}
		}
	})
}

func TestCheck(t *testing.T) {
	for _, dsn := range []string{"mem:", "jsonl:data", "sqlite:///tmp/x.db"} {
		if err := Check(dsn); err != nil {
			t.Errorf("Check(%q) = %v", dsn, err)
		}
	}
	for _, dsn := range []string{"", "jsonl:", "redis:x"} {
		if err := Check(dsn); err == nil {
			t.Errorf("Check(%q) succeeded", dsn)
		}
	}
}
