package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/maruel/docmap/internal/describe"
	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/store"
)

type command struct {
	name  string
	usage string
	help  string
	nargs int
	run   func(*cli, context.Context, []string) error
}

var commands = []command{
	{"check", "check", "list the compiled schemas", 0, (*cli).check},
	{"jsonschema", "jsonschema <Schema>", "print the JSON Schema of a schema", 1, (*cli).jsonSchema},
	{"validate", "validate <Schema> <file.jsonl>", "validate documents without saving them", 2, (*cli).validate},
	{"import", "import <Schema> <file.jsonl>", "validate and save documents", 2, (*cli).importFile},
	{"get", "get <Schema> <id>", "print a stored document", 2, (*cli).get},
	{"count", "count <Schema>", "count stored documents", 1, (*cli).count},
	{"serve", "serve", "keep the store open until interrupted", 0, (*cli).serve},
}

// cli runs commands against a connected registry.
type cli struct {
	reg *mapper.Registry
	out io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		if len(args)-1 != cmd.nargs {
			return fmt.Errorf("usage: docmap %s", cmd.usage)
		}
		return cmd.run(c, ctx, args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *cli) lookup(name string) (*mapper.Type, error) {
	t, ok := c.reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown schema %q; known: %s", name, strings.Join(c.reg.Names(), ", "))
	}
	return t, nil
}

func (c *cli) check(ctx context.Context, _ []string) error {
	for _, name := range c.reg.Names() {
		t, _ := c.reg.Lookup(name)
		rule := t.Schema()
		storage := "unstored"
		switch rule.Storage.Kind {
		case mapper.TopLevel:
			storage = rule.Storage.Collection
		case mapper.EmbeddedInArray:
			storage = rule.Storage.Collection + "." + rule.Storage.ArrayField + "[]"
		case mapper.Unstored:
		}
		if _, err := fmt.Fprintf(c.out, "%-20s %-28s %d fields\n", name, storage, len(rule.Fields)); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) jsonSchema(_ context.Context, args []string) error {
	t, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	s, err := describe.JSONSchema(t)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *cli) validate(ctx context.Context, args []string) error {
	t, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	invalid := 0
	n, err := readLines(args[1], func(line int, values map[string]any) error {
		d, err := t.New(values)
		if err == nil {
			err = d.Validate(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			invalid++
			_, err = fmt.Fprintf(c.out, "%s:%d: %v\n", args[1], line, err)
		}
		return err
	})
	if err != nil {
		return err
	}
	if invalid != 0 {
		return fmt.Errorf("%d of %d documents are invalid", invalid, n)
	}
	slog.InfoContext(ctx, "Validated documents", "schema", t.Name(), "count", n)
	return nil
}

func (c *cli) importFile(ctx context.Context, args []string) error {
	t, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	failed := 0
	n, err := readLines(args[1], func(line int, values map[string]any) error {
		d, err := t.New(values)
		if err == nil {
			err = d.Save(ctx)
		}
		if err != nil {
			if !rejected(err) {
				return fmt.Errorf("%s:%d: %w", args[1], line, err)
			}
			failed++
			_, err = fmt.Fprintf(c.out, "%s:%d: %v\n", args[1], line, err)
			return err
		}
		_, err = fmt.Fprintf(c.out, "%v\n", d.ID())
		return err
	})
	if err != nil {
		return err
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d documents were rejected", failed, n)
	}
	slog.InfoContext(ctx, "Imported documents", "schema", t.Name(), "count", n)
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	t, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	d, err := t.FindOne(ctx, store.Selector{store.IDField: args[1]})
	if err != nil {
		return err
	}
	if d == nil {
		return docerr.NotFound(t.Schema().Storage.Collection, args[1])
	}
	data, err := json.MarshalIndent(d.Values(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *cli) count(ctx context.Context, args []string) error {
	t, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	n, err := t.Count(ctx, nil)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%d\n", n)
	return err
}

func (c *cli) serve(ctx context.Context, _ []string) error {
	slog.InfoContext(ctx, "Serving", "schemas", len(c.reg.Names()))
	<-ctx.Done()
	slog.InfoContext(ctx, "Stopped")
	return nil
}

// rejected reports whether err is about the document rather than the store.
func rejected(err error) bool {
	if _, ok := docerr.AsList(err); ok {
		return true
	}
	switch docerr.KindOf(err) {
	case docerr.KindMissingField, docerr.KindFieldInvalid, docerr.KindCardinalityViolation, docerr.KindUnknownField:
		return true
	default:
		return false
	}
}

// readLines calls fn for every non-empty line of a JSONL file and returns
// the number of documents read.
func readLines(path string, fn func(line int, values map[string]any) error) (int, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is provided by the CLI user
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for line := 1; s.Scan(); line++ {
		b := s.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var values map[string]any
		if err := json.Unmarshal(b, &values); err != nil {
			return n, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		n++
		if err := fn(line, values); err != nil {
			return n, err
		}
	}
	return n, s.Err()
}
