package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/schemafile"
	"github.com/maruel/docmap/internal/store/memstore"
)

const testSchemas = `version: 1
schemas:
  - name: Address
    embedded_in: {collection: users, array: addresses}
    fields:
      - {name: street, type: ShortString}
  - name: User
    collection: users
    fields:
      - {name: name, type: ShortString}
      - {name: email, type: Email}
      - {name: addresses, embedded_array: Address}
`

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer, *memstore.DB) {
	t.Helper()
	f, err := schemafile.ParseBytes([]byte(testSchemas))
	if err != nil {
		t.Fatal(err)
	}
	reg := mapper.NewRegistry()
	db := memstore.New()
	reg.Connect(db)
	if _, err := f.Compile(reg); err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return &cli{reg: reg, out: out}, out, db
}

func writeFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands(t *testing.T) {
	ctx := t.Context()
	t.Run("check", func(t *testing.T) {
		c, out, _ := newTestCLI(t)
		if err := c.run(ctx, []string{"check"}); err != nil {
			t.Fatal(err)
		}
		got := out.String()
		if !strings.Contains(got, "users.addresses[]") || !strings.Contains(got, "User ") {
			t.Errorf("check = %q", got)
		}
	})
	t.Run("jsonschema", func(t *testing.T) {
		c, out, _ := newTestCLI(t)
		if err := c.run(ctx, []string{"jsonschema", "User"}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), `"#/$defs/Address"`) {
			t.Errorf("jsonschema = %s", out)
		}
	})
	t.Run("import and get", func(t *testing.T) {
		c, out, db := newTestCLI(t)
		path := writeFile(t,
			`{"name": "Ole", "email": "ole@example.com", "addresses": [{"street": "5th ave"}]}`,
			``,
			`{"name": "Hans", "email": "hans@example.com"}`,
		)
		if err := c.run(ctx, []string{"import", "User", path}); err != nil {
			t.Fatal(err)
		}
		ids := strings.Fields(out.String())
		if len(ids) != 2 || len(db.Documents("users")) != 2 {
			t.Fatalf("import = %q", out)
		}
		out.Reset()
		if err := c.run(ctx, []string{"get", "User", ids[0]}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), `"5th ave"`) {
			t.Errorf("get = %s", out)
		}
		out.Reset()
		if err := c.run(ctx, []string{"count", "User"}); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(out.String()); got != "2" {
			t.Errorf("count = %q", got)
		}
		if err := c.run(ctx, []string{"get", "User", "missing"}); err == nil {
			t.Error("get(missing) succeeded")
		}
	})
	t.Run("invalid documents", func(t *testing.T) {
		c, out, db := newTestCLI(t)
		path := writeFile(t,
			`{"name": "Ole", "email": "ole@example.com"}`,
			`{"name": "Hans", "email": "nope"}`,
			`{"email": "x@example.com"}`,
		)
		if err := c.run(ctx, []string{"validate", "User", path}); err == nil {
			t.Fatal("expected error")
		}
		if got := out.String(); !strings.Contains(got, ":2:") || !strings.Contains(got, ":3:") || strings.Contains(got, ":1:") {
			t.Errorf("validate = %q", got)
		}
		if n := len(db.Documents("users")); n != 0 {
			t.Errorf("validate stored %d documents", n)
		}
		out.Reset()
		if err := c.run(ctx, []string{"import", "User", path}); err == nil {
			t.Fatal("expected error")
		}
		if n := len(db.Documents("users")); n != 1 {
			t.Errorf("import stored %d documents", n)
		}
	})
	t.Run("usage", func(t *testing.T) {
		c, _, _ := newTestCLI(t)
		for _, args := range [][]string{{"nope"}, {"get", "User"}, {"count", "Nope"}} {
			if err := c.run(ctx, args); err == nil {
				t.Errorf("run(%q) succeeded", args)
			}
		}
	})
}
