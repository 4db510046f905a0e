// Compiles schema declarations into SchemaRules.

package mapper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/typerule"
)

// StorageKind tells where documents of a schema live.
type StorageKind int

const (
	// Unstored schemas are only used as embedded values.
	Unstored StorageKind = iota
	// TopLevel documents are stored directly in a collection.
	TopLevel
	// EmbeddedInArray documents are stored inside an array field of the
	// top-level documents of a collection.
	EmbeddedInArray
)

// StorageMapping describes where documents of a schema are persisted.
type StorageMapping struct {
	Kind       StorageKind
	Collection string
	ArrayField string
}

// FieldRule is a compiled field declaration.
type FieldRule struct {
	Name string
	// Rule is the declared type rule, nil for schema-typed fields.
	Rule *typerule.Rule
	// Rules is Rule's chain, oldest first, resolved once at compile time.
	Rules []*typerule.Rule
	// SchemaName names the sub-document schema for schema-typed fields. It is
	// resolved through the registry at call time.
	SchemaName string

	Generated bool
	Embedded  bool
	Linked    bool
	IsArray   bool
	// CardinalityMin and CardinalityMax bound the number of elements of an
	// embedded array. -1 means unset (min) or unbounded (max).
	CardinalityMin int
	CardinalityMax int
}

// ForeignFieldRule describes a one-to-many relation resolved by query: the
// related schema's container field lists the documents of this schema whose
// ChildForeignIDField equals the parent's ParentIDField.
type ForeignFieldRule struct {
	RelatedSchema        string
	ParentIDField        string
	ParentContainerField string
	ChildForeignIDField  string
	ExposedAs            string
}

// ExtensionFunc is a schema-level method attached to every document.
type ExtensionFunc func(d *Document, args ...any) (any, error)

// Extension is a named schema-level method.
type Extension struct {
	Method string
	Func   ExtensionFunc
}

// IndexSpec is an index declaration. Indexes are recorded, not managed.
type IndexSpec struct {
	Field string
	// Order is 1 for ascending and -1 for descending.
	Order int
	// TTL is set for time-to-live indexes.
	TTL time.Duration
}

// SchemaRule is a compiled schema.
type SchemaRule struct {
	Name          string
	Fields        []*FieldRule
	ForeignFields []*ForeignFieldRule
	Extensions    []Extension
	Storage       StorageMapping
	Indexes       []IndexSpec

	fields map[string]*FieldRule
}

// Field returns the named field rule.
func (s *SchemaRule) Field(name string) (*FieldRule, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// ForeignField returns the foreign field rule for a parent container field.
func (s *SchemaRule) ForeignField(container string) (*ForeignFieldRule, bool) {
	for _, ff := range s.ForeignFields {
		if ff.ParentContainerField == container {
			return ff, true
		}
	}
	return nil, false
}

func (s *SchemaRule) foreignByChildField(field string) (*ForeignFieldRule, bool) {
	for _, ff := range s.ForeignFields {
		if ff.ChildForeignIDField == field {
			return ff, true
		}
	}
	return nil, false
}

func (s *SchemaRule) foreignByExposed(name string) (*ForeignFieldRule, bool) {
	for _, ff := range s.ForeignFields {
		if ff.ExposedAs != "" && ff.ExposedAs == name {
			return ff, true
		}
	}
	return nil, false
}

// Spec is the schema description capability passed to Define.
type Spec struct {
	rule *SchemaRule
	errs []error
}

func (s *Spec) fail(format string, args ...any) {
	s.errs = append(s.errs, docerr.InvalidSchema(s.rule.Name, fmt.Sprintf(format, args...)))
}

// Field starts the declaration of a field.
func (s *Spec) Field(name string) *FieldSpec {
	return &FieldSpec{s: s, name: name}
}

// InCollection stores documents at the top level of a collection.
func (s *Spec) InCollection(name string) {
	s.setStorage(StorageMapping{Kind: TopLevel, Collection: name})
}

// EmbeddedInCollection stores documents inside an array of the top-level
// documents of a collection; complete it with AsArray.
func (s *Spec) EmbeddedInCollection(name string) *EmbeddedSpec {
	s.setStorage(StorageMapping{Kind: EmbeddedInArray, Collection: name})
	return &EmbeddedSpec{s: s}
}

func (s *Spec) setStorage(m StorageMapping) {
	if m.Collection == "" {
		s.fail("empty collection name")
		return
	}
	if s.rule.Storage.Kind != Unstored {
		s.fail("storage declared twice")
		return
	}
	s.rule.Storage = m
}

// Extend attaches a method to every document of the schema.
func (s *Spec) Extend(method string, fn ExtensionFunc) {
	if method == "" || fn == nil {
		s.fail("invalid extension %q", method)
		return
	}
	s.rule.Extensions = append(s.rule.Extensions, Extension{Method: method, Func: fn})
}

// LinkedTo declares that documents of this schema are linked elements of t,
// a *Type or schema name.
func (s *Spec) LinkedTo(t any) *LinkSpec {
	name, ok := schemaName(t)
	if !ok {
		s.fail("linked to %T, want a schema", t)
	}
	return &LinkSpec{s: s, ff: &ForeignFieldRule{RelatedSchema: name}}
}

// Index declares an index on field.
func (s *Spec) Index(field string, order int) {
	s.addIndex(IndexSpec{Field: field, Order: order})
}

// TTLIndex declares a time-to-live index on field.
func (s *Spec) TTLIndex(field string, order int, ttl time.Duration) {
	if ttl <= 0 {
		s.fail("ttl index on %s: non-positive ttl", field)
		return
	}
	s.addIndex(IndexSpec{Field: field, Order: order, TTL: ttl})
}

func (s *Spec) addIndex(idx IndexSpec) {
	if idx.Field == "" || (idx.Order != 1 && idx.Order != -1) {
		s.fail("invalid index %+v", idx)
		return
	}
	s.rule.Indexes = append(s.rule.Indexes, idx)
}

// EmbeddedSpec completes an EmbeddedInCollection declaration.
type EmbeddedSpec struct {
	s *Spec
}

// AsArray names the array field holding the documents.
func (e *EmbeddedSpec) AsArray(field string) {
	if field == "" {
		e.s.fail("empty array field")
		return
	}
	e.s.rule.Storage.ArrayField = field
}

// LinkSpec builds a ForeignFieldRule.
type LinkSpec struct {
	s        *Spec
	ff       *ForeignFieldRule
	declared bool
}

// Using names the parent field whose value links the documents.
func (l *LinkSpec) Using(parentIDField string) *LinkSpec {
	l.ff.ParentIDField = parentIDField
	return l
}

// ThroughField names the parent's linked array field.
func (l *LinkSpec) ThroughField(containerField string) *LinkSpec {
	l.ff.ParentContainerField = containerField
	return l
}

// As names this schema's foreign key field and records the relation.
func (l *LinkSpec) As(childForeignIDField string) *LinkSpec {
	l.ff.ChildForeignIDField = childForeignIDField
	if l.declared {
		return l
	}
	l.declared = true
	if l.ff.ParentIDField == "" || l.ff.ParentContainerField == "" || childForeignIDField == "" {
		l.s.fail("incomplete link to %s", l.ff.RelatedSchema)
		return l
	}
	if _, dup := l.s.rule.ForeignField(l.ff.ParentContainerField); dup {
		l.s.fail("link through %s declared twice", l.ff.ParentContainerField)
		return l
	}
	l.s.rule.ForeignFields = append(l.s.rule.ForeignFields, l.ff)
	return l
}

// ExposedAs names the accessor returning the parent document.
func (l *LinkSpec) ExposedAs(field string) {
	l.ff.ExposedAs = field
}

// FieldSpec declares a field.
type FieldSpec struct {
	s    *Spec
	name string
}

func (f *FieldSpec) add(fr *FieldRule) *FieldRule {
	fr.Name = f.name
	fr.CardinalityMin = -1
	fr.CardinalityMax = -1
	switch {
	case f.name == "":
		f.s.fail("empty field name")
		return fr
	case f.name == store.IDField:
		f.s.fail("field %s is reserved", store.IDField)
		return fr
	case strings.ContainsAny(f.name, ".$"):
		f.s.fail("field %q contains a reserved character", f.name)
		return fr
	}
	if _, dup := f.s.rule.fields[f.name]; dup {
		f.s.fail("field %s declared twice", f.name)
		return fr
	}
	f.s.rule.fields[f.name] = fr
	f.s.rule.Fields = append(f.s.rule.Fields, fr)
	return fr
}

// Of declares a field of type t: a typerule.BaseType, a *typerule.Rule, or
// a schema (*Type or schema name) for a single sub-document.
func (f *FieldSpec) Of(t any) {
	fr := &FieldRule{}
	if name, ok := schemaName(t); ok {
		fr.SchemaName = name
	} else if r, err := ruleOf(t); err == nil {
		fr.Rule = r
		fr.Rules = r.Chain()
	} else {
		f.s.fail("field %s: %v", f.name, err)
	}
	f.add(fr)
}

// ruleOf returns t itself when it is a rule, so the field validates against
// exactly the declared chain, or a new rule for a base type.
func ruleOf(t any) (*typerule.Rule, error) {
	if r, ok := t.(*typerule.Rule); ok {
		if r == nil {
			return nil, errors.New("nil rule")
		}
		return r, nil
	}
	return typerule.Parse(t)
}

// GeneratedBy declares a field assigned by the mapper or server-side logic.
// It is never validated. Absent ID and Time values are generated at creation.
func (f *FieldSpec) GeneratedBy(t any) {
	r, err := ruleOf(t)
	if err != nil {
		f.s.fail("field %s: %v", f.name, err)
	}
	fr := &FieldRule{Rule: r, Generated: true}
	if r != nil {
		fr.Rules = r.Chain()
	}
	f.add(fr)
}

// EmbeddedArrayOf declares an array of sub-documents of schema t stored
// inside the owning document.
func (f *FieldSpec) EmbeddedArrayOf(t any) *ArraySpec {
	name, ok := schemaName(t)
	if !ok {
		f.s.fail("field %s: embedded array of %T, want a schema", f.name, t)
	}
	fr := f.add(&FieldRule{SchemaName: name, Embedded: true, IsArray: true})
	return &ArraySpec{s: f.s, f: fr}
}

// LinkedArrayOf declares a collection of documents of schema t stored
// separately and related through a foreign key declared on t with LinkedTo.
func (f *FieldSpec) LinkedArrayOf(t any) {
	name, ok := schemaName(t)
	if !ok {
		f.s.fail("field %s: linked array of %T, want a schema", f.name, t)
	}
	f.add(&FieldRule{SchemaName: name, Linked: true, IsArray: true})
}

// ArraySpec refines an embedded array declaration.
type ArraySpec struct {
	s *Spec
	f *FieldRule
}

// With bounds the number of elements, in the form "min", "min:max" or
// "min:n" for unbounded.
func (a *ArraySpec) With(cardinality string) {
	lo, hi, err := ParseCardinality(cardinality)
	if err != nil {
		a.s.fail("field %s: %v", a.f.Name, err)
		return
	}
	a.f.CardinalityMin = lo
	a.f.CardinalityMax = hi
}

// ParseCardinality parses "min[:max|:n]". max is -1 when unbounded.
func ParseCardinality(s string) (int, int, error) {
	lo, hi, hasHi := strings.Cut(s, ":")
	minimum, err := strconv.Atoi(lo)
	if err != nil || minimum < 0 {
		return 0, 0, fmt.Errorf("invalid cardinality %q", s)
	}
	if !hasHi || hi == "n" {
		return minimum, -1, nil
	}
	maximum, err := strconv.Atoi(hi)
	if err != nil || maximum < minimum {
		return 0, 0, fmt.Errorf("invalid cardinality %q", s)
	}
	return minimum, maximum, nil
}

func schemaName(t any) (string, bool) {
	switch v := t.(type) {
	case *Type:
		if v == nil {
			return "", false
		}
		return v.rule.Name, true
	case string:
		return v, v != ""
	default:
		return "", false
	}
}

// finish checks cross-field constraints once the description ran.
func (s *Spec) finish() error {
	r := s.rule
	if r.Storage.Kind == EmbeddedInArray && r.Storage.ArrayField == "" {
		s.fail("embedded in %s without array field", r.Storage.Collection)
	}
	for _, ff := range r.ForeignFields {
		if _, clash := r.fields[ff.ChildForeignIDField]; clash {
			s.fail("foreign key %s is also a declared field", ff.ChildForeignIDField)
		}
	}
	return errors.Join(s.errs...)
}
