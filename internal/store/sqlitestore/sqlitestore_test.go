package sqlitestore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/maruel/docmap/internal/store"
)

func TestCollection(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	users := db.Collection("users")
	comments := db.Collection("comments")
	if err := users.Insert(ctx, store.Document{
		"_id":  "u1",
		"name": "ole",
		"addresses": []any{
			map[string]any{"_id": "a1", "street": "5th ave"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := users.Insert(ctx, store.Document{"_id": "u1"}); !errors.Is(err, store.ErrDuplicateID) {
		t.Errorf("duplicate insert: %v", err)
	}
	// Same _id in another collection is fine.
	if err := comments.Insert(ctx, store.Document{"_id": "u1", "user_id": "u1"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"c3", "c2"} {
		if err := comments.Insert(ctx, store.Document{"_id": id, "user_id": "u1"}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := users.Update(ctx,
		store.Selector{"_id": "u1", "addresses._id": "a1"},
		store.Update{Set: map[string]any{"addresses.$.street": "20th ave"}})
	if err != nil || n != 1 {
		t.Fatalf("Update() = %d, %v", n, err)
	}
	got, err := users.FindOne(ctx, store.Selector{"_id": "u1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.Lookup(got, "addresses.0.street") != "20th ave" {
		t.Errorf("unexpected document %v", got)
	}

	first, err := comments.FindOne(ctx, store.Selector{"user_id": "u1"}, &store.FindOptions{SortBy: store.IDField, Skip: 1})
	if err != nil {
		t.Fatal(err)
	}
	if first[store.IDField] != "c3" {
		t.Errorf("FindOne(skip 1) = %v", first)
	}
	if c, err := comments.Count(ctx, store.Selector{"user_id": "u1"}); err != nil || c != 3 {
		t.Errorf("Count() = %d, %v", c, err)
	}
	if r, err := comments.Remove(ctx, store.Selector{"user_id": "u1"}); err != nil || r != 3 {
		t.Errorf("Remove() = %d, %v", r, err)
	}
	if c, err := users.Count(ctx, nil); err != nil || c != 1 {
		t.Errorf("users Count() = %d, %v", c, err)
	}
}

func TestUpdateArrayFilters(t *testing.T) {
	ctx := t.Context()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	people := db.Collection("people")
	doc := store.Document{
		"_id": "p1",
		"addresses": []any{
			map[string]any{"_id": "a1", "street": "5th ave"},
			map[string]any{"_id": "a2", "street": "10th ave"},
			map[string]any{"_id": "a3", "street": "1st ave"},
		},
	}
	if err := people.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	n, err := people.Update(ctx, store.Selector{"_id": "p1", "addresses._id": "a2"}, store.Update{
		Set: map[string]any{
			"addresses.$.street":     "20th ave",
			"addresses.$[e0].street": "30th ave",
		},
		ArrayFilters: map[string]store.Selector{"e0": {"_id": "a3"}},
	})
	if err != nil || n != 1 {
		t.Fatalf("Update() = %d, %v", n, err)
	}
	got, err := people.FindOne(ctx, store.Selector{"_id": "p1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]any{
		"addresses.0.street": "5th ave",
		"addresses.1.street": "20th ave",
		"addresses.2.street": "30th ave",
	} {
		if v := store.Lookup(got, path); v != want {
			t.Errorf("%s = %v; want %v", path, v, want)
		}
	}
}
