package schemafile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/store/memstore"
)

func TestCompile(t *testing.T) {
	f, err := Parse("testdata/blog.yaml")
	if err != nil {
		t.Fatal(err)
	}
	reg := mapper.NewRegistry()
	db := memstore.New()
	reg.Connect(db)
	typs, err := f.Compile(reg)
	if err != nil {
		t.Fatal(err)
	}
	if len(typs) != 3 {
		t.Fatalf("%d types", len(typs))
	}
	user, _ := reg.Lookup("User")
	rule := user.Schema()
	if len(rule.Indexes) != 2 || rule.Indexes[1].Order != -1 || rule.Indexes[1].TTL != 720*time.Hour {
		t.Errorf("indexes = %+v", rule.Indexes)
	}
	addrs, _ := rule.Field("addresses")
	if addrs.CardinalityMin != 1 || addrs.CardinalityMax != -1 {
		t.Errorf("addresses = %+v", addrs)
	}
	name, _ := rule.Field("first_name")
	if len(name.Rules) != 2 {
		t.Errorf("first_name chain = %d rules", len(name.Rules))
	}

	ctx := t.Context()
	u, err := user.New(map[string]any{
		"first_name": "Ole",
		"last_name":  "Hansen",
		"email":      "ole@example.com",
		"addresses":  []any{map[string]any{"street": "5th ave"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Linked("posts").Push(map[string]any{"title": "Hello"}); err != nil {
		t.Fatal(err)
	}
	if err := u.Save(ctx); err != nil {
		t.Fatal(err)
	}
	post, err := u.Linked("posts").Get(ctx, 0)
	if err != nil || post == nil {
		t.Fatalf("Get(0) = %v, %v", post, err)
	}
	author, err := post.Related(ctx, "author")
	if err != nil || author == nil || author.ID() != u.ID() {
		t.Errorf("Related() = %v, %v", author, err)
	}

	bad, err := user.New(map[string]any{"first_name": "ole", "last_name": "Hansen", "email": "nope"})
	if err != nil {
		t.Fatal(err)
	}
	l, ok := docerr.AsList(bad.Validate(ctx))
	if !ok {
		t.Fatal("expected validation errors")
	}
	var fields []string
	for _, e := range l {
		fields = append(fields, e.Field())
	}
	if got := strings.Join(fields, ","); got != "first_name,email,addresses" {
		t.Errorf("invalid fields = %s", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"version", "version: 2\nschemas: []\n"},
		{"yaml", "version: [\n"},
		{"no name", "version: 1\nschemas:\n  - collection: x\n"},
		{"duplicate", "version: 1\nschemas:\n  - name: A\n  - name: A\n"},
		{"two storages", "version: 1\nschemas:\n  - name: A\n    collection: a\n    embedded_in: {collection: b, array: c}\n"},
		{"no kind", "version: 1\nschemas:\n  - name: A\n    fields:\n      - name: f\n"},
		{"two kinds", "version: 1\nschemas:\n  - name: A\n    fields:\n      - {name: f, type: string, generated: id}\n"},
		{"cardinality", "version: 1\nschemas:\n  - name: A\n    fields:\n      - {name: f, type: string, cardinality: '1:n'}\n"},
		{"order", "version: 1\nschemas:\n  - name: A\n    indexes:\n      - {field: f, order: up}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBytes([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		schema bool
	}{
		{"undeclared base", "version: 1\ntypes:\n  A: {base: B}\n", false},
		{"cycle", "version: 1\ntypes:\n  A: {base: B}\n  B: {base: A}\n", false},
		{"pattern", "version: 1\ntypes:\n  A: {base: string, pattern: '('}\n", false},
		{"shadow", "version: 1\ntypes:\n  Email: {base: string}\n", false},
		{"cardinality", "version: 1\nschemas:\n  - name: A\n    fields:\n      - {name: f, embedded_array: B, cardinality: 'x'}\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseBytes([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			_, err = f.Compile(mapper.NewRegistry())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, docerr.ErrInvalidSchema); got != tt.schema {
				t.Errorf("Compile() = %v", err)
			}
		})
	}
}
