// Parses declarative schema description YAML files.

package schemafile

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/typerule"
	"github.com/maruel/docmap/internal/types"
	"gopkg.in/yaml.v3"
)

// File is a schema description file.
type File struct {
	Version int                 `yaml:"version"`
	Types   map[string]TypeDecl `yaml:"types,omitempty"`
	Schemas []SchemaDecl        `yaml:"schemas"`
}

// TypeDecl declares a named type rule.
type TypeDecl struct {
	// Base is a base type (string, number, bool, time, id, any) or the name
	// of another type rule to chain.
	Base      string `yaml:"base"`
	MinLength *int   `yaml:"min_length,omitempty"`
	MaxLength *int   `yaml:"max_length,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`
}

// SchemaDecl declares a schema.
type SchemaDecl struct {
	Name       string        `yaml:"name"`
	Collection string        `yaml:"collection,omitempty"`
	EmbeddedIn *EmbeddedDecl `yaml:"embedded_in,omitempty"`
	Fields     []FieldDecl   `yaml:"fields"`
	LinkedTo   *LinkDecl     `yaml:"linked_to,omitempty"`
	Indexes    []IndexDecl   `yaml:"indexes,omitempty"`
}

// EmbeddedDecl stores a schema inside an array of another collection.
type EmbeddedDecl struct {
	Collection string `yaml:"collection"`
	Array      string `yaml:"array"`
}

// FieldDecl declares a field. Exactly one of Type, Generated, EmbeddedArray
// and LinkedArray is set.
type FieldDecl struct {
	Name string `yaml:"name"`
	// Type is a base type, a type rule name or a schema name.
	Type          string `yaml:"type,omitempty"`
	Generated     string `yaml:"generated,omitempty"`
	EmbeddedArray string `yaml:"embedded_array,omitempty"`
	LinkedArray   string `yaml:"linked_array,omitempty"`
	Cardinality   string `yaml:"cardinality,omitempty"`
}

// LinkDecl declares the foreign key relating a schema to a parent schema.
type LinkDecl struct {
	Schema    string `yaml:"schema"`
	Using     string `yaml:"using"`
	Through   string `yaml:"through"`
	As        string `yaml:"as"`
	ExposedAs string `yaml:"exposed_as,omitempty"`
}

// IndexDecl declares an index. Order is "asc" or "desc".
type IndexDecl struct {
	Field string        `yaml:"field"`
	Order string        `yaml:"order,omitempty"`
	TTL   time.Duration `yaml:"ttl,omitempty"`
}

// Builtins are the type rules available to every file.
var Builtins = map[string]*typerule.Rule{
	"ShortString": types.ShortString,
	"Email":       types.Email,
	"Password":    types.Password,
}

// Parse reads and parses a schema description file.
// The path is provided by the CLI user, so file inclusion is expected.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified schema path
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a schema description.
func ParseBytes(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema file: %w", err)
	}
	return &f, nil
}

// Validate checks the structure of the file. Type checks happen in Compile.
func (f *File) Validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported schema file version: %d", f.Version)
	}
	seen := map[string]bool{}
	for i := range f.Schemas {
		s := &f.Schemas[i]
		if s.Name == "" {
			return fmt.Errorf("schema %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schema %s: declared twice", s.Name)
		}
		seen[s.Name] = true
		if s.Collection != "" && s.EmbeddedIn != nil {
			return fmt.Errorf("schema %s: collection and embedded_in are exclusive", s.Name)
		}
		for j := range s.Fields {
			fd := &s.Fields[j]
			if fd.Name == "" {
				return fmt.Errorf("schema %s, field %d: name is required", s.Name, j)
			}
			n := 0
			for _, v := range []string{fd.Type, fd.Generated, fd.EmbeddedArray, fd.LinkedArray} {
				if v != "" {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("schema %s, field %s: exactly one of type, generated, embedded_array and linked_array is required", s.Name, fd.Name)
			}
			if fd.Cardinality != "" && fd.EmbeddedArray == "" {
				return fmt.Errorf("schema %s, field %s: cardinality applies to embedded arrays", s.Name, fd.Name)
			}
		}
		for _, idx := range s.Indexes {
			if idx.Order != "" && idx.Order != "asc" && idx.Order != "desc" {
				return fmt.Errorf("schema %s, index %s: invalid order %q", s.Name, idx.Field, idx.Order)
			}
		}
	}
	return nil
}

// Compile defines every schema of the file in reg.
func (f *File) Compile(reg *mapper.Registry) ([]*mapper.Type, error) {
	rules, err := f.rules()
	if err != nil {
		return nil, err
	}
	out := make([]*mapper.Type, 0, len(f.Schemas))
	for i := range f.Schemas {
		s := &f.Schemas[i]
		t, err := reg.Define(s.Name, func(spec *mapper.Spec) {
			describe(spec, s, rules)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func describe(spec *mapper.Spec, s *SchemaDecl, rules map[string]*typerule.Rule) {
	for _, fd := range s.Fields {
		field := spec.Field(fd.Name)
		switch {
		case fd.Generated != "":
			field.GeneratedBy(typeRef(fd.Generated, rules))
		case fd.EmbeddedArray != "":
			arr := field.EmbeddedArrayOf(fd.EmbeddedArray)
			if fd.Cardinality != "" {
				arr.With(fd.Cardinality)
			}
		case fd.LinkedArray != "":
			field.LinkedArrayOf(fd.LinkedArray)
		default:
			field.Of(typeRef(fd.Type, rules))
		}
	}
	switch {
	case s.Collection != "":
		spec.InCollection(s.Collection)
	case s.EmbeddedIn != nil:
		spec.EmbeddedInCollection(s.EmbeddedIn.Collection).AsArray(s.EmbeddedIn.Array)
	}
	if l := s.LinkedTo; l != nil {
		link := spec.LinkedTo(l.Schema).Using(l.Using).ThroughField(l.Through).As(l.As)
		if l.ExposedAs != "" {
			link.ExposedAs(l.ExposedAs)
		}
	}
	for _, idx := range s.Indexes {
		order := 1
		if idx.Order == "desc" {
			order = -1
		}
		if idx.TTL > 0 {
			spec.TTLIndex(idx.Field, order, idx.TTL)
		} else {
			spec.Index(idx.Field, order)
		}
	}
}

// typeRef maps a type name to a rule, or to a schema name.
func typeRef(name string, rules map[string]*typerule.Rule) any {
	if r, ok := rules[name]; ok {
		return r
	}
	if b := typerule.BaseType(name); isBase(b) {
		return b
	}
	return name
}

func isBase(b typerule.BaseType) bool {
	_, err := typerule.Parse(b)
	return err == nil
}

// rules resolves the named types, following chains in any declaration order.
func (f *File) rules() (map[string]*typerule.Rule, error) {
	out := make(map[string]*typerule.Rule, len(Builtins)+len(f.Types))
	for k, v := range Builtins {
		out[k] = v
	}
	resolving := map[string]bool{}
	var resolve func(name string) (*typerule.Rule, error)
	resolve = func(name string) (*typerule.Rule, error) {
		if r, ok := out[name]; ok {
			return r, nil
		}
		decl, ok := f.Types[name]
		if !ok {
			return nil, fmt.Errorf("type %s is not declared", name)
		}
		if resolving[name] {
			return nil, fmt.Errorf("type %s: cycle", name)
		}
		resolving[name] = true
		var base any = typerule.BaseType(decl.Base)
		if !isBase(typerule.BaseType(decl.Base)) {
			parent, err := resolve(decl.Base)
			if err != nil {
				return nil, fmt.Errorf("type %s: %w", name, err)
			}
			base = parent
		}
		r, err := typerule.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
		if decl.MinLength != nil {
			r = r.MinLength(*decl.MinLength)
		}
		if decl.MaxLength != nil {
			r = r.MaxLength(*decl.MaxLength)
		}
		if decl.Pattern != "" {
			if _, err := regexp.Compile(decl.Pattern); err != nil {
				return nil, fmt.Errorf("type %s: %w", name, err)
			}
			r = r.Matches(decl.Pattern)
		}
		out[name] = r
		return r, nil
	}
	for name := range f.Types {
		if _, ok := Builtins[name]; ok {
			return nil, fmt.Errorf("type %s: shadows a builtin", name)
		}
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
