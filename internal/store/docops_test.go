package store

import (
	"errors"
	"reflect"
	"testing"
)

func mustNormalize(t *testing.T, doc Document) Document {
	t.Helper()
	out, err := NormalizeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestMatch(t *testing.T) {
	doc := mustNormalize(t, Document{
		"_id":  "a1",
		"name": "ole",
		"age":  42,
		"tags": []string{"x", "y"},
		"addresses": []any{
			map[string]any{"_id": "s1", "street": "5th ave"},
			map[string]any{"_id": "s2", "street": "10th ave"},
		},
	})
	tests := []struct {
		name    string
		sel     Selector
		want    bool
		wantPos int
	}{
		{"empty", Selector{}, true, -1},
		{"id", Selector{"_id": "a1"}, true, -1},
		{"number", Selector{"age": 42}, true, -1},
		{"mismatch", Selector{"name": "hans"}, false, -1},
		{"missing field is nil", Selector{"nope": nil}, true, -1},
		{"missing field with value", Selector{"nope": "x"}, false, -1},
		{"array scalar", Selector{"tags": "y"}, true, 1},
		{"array path", Selector{"addresses._id": "s2"}, true, 1},
		{"array path and id", Selector{"_id": "a1", "addresses._id": "s1"}, true, 0},
		{"array path miss", Selector{"addresses._id": "s3"}, false, -1},
		{"array index", Selector{"addresses.1.street": "10th ave"}, true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NormalizeSelector(tt.sel)
			if err != nil {
				t.Fatal(err)
			}
			got, pos := Match(doc, sel)
			if got != tt.want || pos != tt.wantPos {
				t.Errorf("Match() = %v, %d; want %v, %d", got, pos, tt.want, tt.wantPos)
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Run("set top level", func(t *testing.T) {
		doc := mustNormalize(t, Document{"_id": "a", "last_name": "hansen"})
		if err := Apply(doc, -1, Update{Set: map[string]any{"last_name": "johnsen"}}); err != nil {
			t.Fatal(err)
		}
		if doc["last_name"] != "johnsen" {
			t.Errorf("last_name = %v", doc["last_name"])
		}
	})
	t.Run("set positional", func(t *testing.T) {
		doc := mustNormalize(t, Document{
			"_id": "a",
			"addresses": []any{
				map[string]any{"_id": "s1", "street": "5th ave"},
				map[string]any{"_id": "s2", "street": "10th ave"},
			},
		})
		sel, _ := NormalizeSelector(Selector{"_id": "a", "addresses._id": "s2"})
		ok, pos := Match(doc, sel)
		if !ok {
			t.Fatal("expected match")
		}
		if err := Apply(doc, pos, Update{Set: map[string]any{"addresses.$.street": "20th ave"}}); err != nil {
			t.Fatal(err)
		}
		if got := Lookup(doc, "addresses.1.street"); got != "20th ave" {
			t.Errorf("street = %v", got)
		}
		if got := Lookup(doc, "addresses.0.street"); got != "5th ave" {
			t.Errorf("street = %v", got)
		}
	})
	t.Run("positional without match", func(t *testing.T) {
		doc := Document{"_id": "a"}
		err := Apply(doc, -1, Update{Set: map[string]any{"addresses.$.street": "x"}})
		if !errors.Is(err, ErrNoPosition) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("push", func(t *testing.T) {
		doc := mustNormalize(t, Document{"_id": "a", "tags": []string{"x"}})
		if err := Apply(doc, -1, Update{Push: map[string][]any{"tags": {"y", "z"}, "other": {1.0}}}); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(doc["tags"], []any{"x", "y", "z"}) {
			t.Errorf("tags = %v", doc["tags"])
		}
		if !reflect.DeepEqual(doc["other"], []any{1.0}) {
			t.Errorf("other = %v", doc["other"])
		}
	})
	t.Run("array filters", func(t *testing.T) {
		doc := mustNormalize(t, Document{
			"_id": "a",
			"addresses": []any{
				map[string]any{"_id": "s1", "street": "5th ave"},
				map[string]any{"_id": "s2", "street": "10th ave"},
				map[string]any{"_id": "s3", "street": "1st ave"},
			},
		})
		upd, err := NormalizeUpdate(Update{
			Set: map[string]any{
				"addresses.$.street":     "20th ave",
				"addresses.$[e1].street": "30th ave",
			},
			ArrayFilters: map[string]Selector{"e1": {"_id": "s3"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := Apply(doc, 0, upd); err != nil {
			t.Fatal(err)
		}
		for path, want := range map[string]any{
			"addresses.0.street": "20th ave",
			"addresses.1.street": "10th ave",
			"addresses.2.street": "30th ave",
		} {
			if got := Lookup(doc, path); got != want {
				t.Errorf("%s = %v; want %v", path, got, want)
			}
		}
		if err := Apply(doc, -1, Update{Set: map[string]any{"addresses.$[e9].street": "x"}}); err == nil {
			t.Error("expected error for undeclared filter")
		}
	})
	t.Run("push into scalar", func(t *testing.T) {
		doc := Document{"_id": "a", "name": "x"}
		if err := Apply(doc, -1, Update{Push: map[string][]any{"name": {"y"}}}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSelect(t *testing.T) {
	var docs []Document
	for _, d := range []Document{
		{"_id": "c", "fk": "p"},
		{"_id": "a", "fk": "p"},
		{"_id": "b", "fk": "q"},
		{"_id": "d", "fk": "p"},
	} {
		docs = append(docs, mustNormalize(t, d))
	}
	sel := Selector{"fk": "p"}
	idx, _ := Select(docs, sel, nil)
	if !reflect.DeepEqual(idx, []int{0, 1, 3}) {
		t.Errorf("unsorted = %v", idx)
	}
	idx, _ = Select(docs, sel, &FindOptions{SortBy: IDField})
	if !reflect.DeepEqual(idx, []int{1, 0, 3}) {
		t.Errorf("sorted = %v", idx)
	}
	idx, _ = Select(docs, sel, &FindOptions{SortBy: IDField, Skip: 2})
	if !reflect.DeepEqual(idx, []int{3}) {
		t.Errorf("skip = %v", idx)
	}
	idx, _ = Select(docs, sel, &FindOptions{Skip: 5})
	if len(idx) != 0 {
		t.Errorf("skip past end = %v", idx)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{nil, 1.0, -1},
		{1.0, 2.0, -1},
		{"b", "a", 1},
		{1.0, "a", -1},
		{true, false, 1},
		{"x", "x", 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d; want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
