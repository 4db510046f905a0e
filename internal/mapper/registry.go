// Package mapper maps schema-described documents to a document store.
//
// Schemas are declared with Define, which compiles a description into a
// SchemaRule and returns the document Type. Documents track their changes and
// persist them through a single combined update on Save. Array fields are
// either embedded in the owning document or linked through a foreign key to
// documents of another collection.
//
//	User := mapper.MustDefine("User", func(s *mapper.Spec) {
//		s.Field("first_name").Of(typerule.String)
//		s.Field("addresses").EmbeddedArrayOf("Address").With("1:n")
//		s.InCollection("users")
//	})
package mapper

import (
	"maps"
	"slices"
	"sync"

	"github.com/maruel/docmap/internal/docerr"
	"github.com/maruel/docmap/internal/store"
)

// Registry holds the defined schemas and the bound store.
//
// Schemas refer to each other by name, resolved when used, so declarations may
// appear in any order.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
	db    store.Database
}

// NewRegistry returns an empty registry with no bound store.
func NewRegistry() *Registry {
	return &Registry{types: map[string]*Type{}}
}

// Default is the process-wide registry used by the package level functions.
var Default = NewRegistry()

// Define compiles a schema description and registers it under name,
// replacing any previous schema with the same name.
func (r *Registry) Define(name string, describe func(s *Spec)) (*Type, error) {
	if name == "" {
		return nil, docerr.InvalidSchema(name, "empty name")
	}
	s := &Spec{rule: &SchemaRule{Name: name, fields: map[string]*FieldRule{}}}
	if describe != nil {
		describe(s)
	}
	if err := s.finish(); err != nil {
		return nil, err
	}
	t := &Type{reg: r, rule: s.rule}
	r.mu.Lock()
	r.types[name] = t
	r.mu.Unlock()
	return t, nil
}

// MustDefine is like Define but panics on error.
func (r *Registry) MustDefine(name string, describe func(s *Spec)) *Type {
	t, err := r.Define(name, describe)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.types))
}

// Connect binds the store used by every document of the registry.
func (r *Registry) Connect(db store.Database) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db = db
}

// Close closes and unbinds the store.
func (r *Registry) Close() error {
	r.mu.Lock()
	db := r.db
	r.db = nil
	r.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (r *Registry) database() (store.Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, docerr.NoConnection()
	}
	return r.db, nil
}

func (r *Registry) resolve(name string) (*Type, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, docerr.InvalidSchema(name, "not defined")
	}
	return t, nil
}

// Define registers a schema in Default.
func Define(name string, describe func(s *Spec)) (*Type, error) {
	return Default.Define(name, describe)
}

// MustDefine registers a schema in Default and panics on error.
func MustDefine(name string, describe func(s *Spec)) *Type {
	return Default.MustDefine(name, describe)
}

// Lookup returns a schema registered in Default.
func Lookup(name string) (*Type, bool) {
	return Default.Lookup(name)
}

// Connect binds the store of Default.
func Connect(db store.Database) {
	Default.Connect(db)
}
