package storemetrics

import (
	"testing"

	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/store/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWrap(t *testing.T) {
	ctx := t.Context()
	reg := prometheus.NewRegistry()
	c := New(reg)
	db := c.Wrap(memstore.New())
	users := db.Collection("users")

	if err := users.Insert(ctx, store.Document{"_id": "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := users.Insert(ctx, store.Document{"_id": "u1"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := users.Update(ctx, store.Selector{"_id": "u1"}, store.Update{Set: map[string]any{"a": 1}}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(c.Operations.WithLabelValues("users", "insert")); got != 2 {
		t.Errorf("insert operations = %v", got)
	}
	if got := testutil.ToFloat64(c.Errors.WithLabelValues("users", "insert")); got != 1 {
		t.Errorf("insert errors = %v", got)
	}
	if got := testutil.ToFloat64(c.Affected.WithLabelValues("users", "update")); got != 1 {
		t.Errorf("updated documents = %v", got)
	}
}
