// Package store defines the document store boundary used by the mapper.
//
// A store holds named collections of schemaless documents. Every document
// carries a unique "_id" value. Selectors are equality matches on dotted field
// paths; updates are limited to $set and $push with an optional positional
// "$" segment resolved against the first array matched by the selector, and
// filtered "$[name]" segments resolved against the update's ArrayFilters.
package store

import (
	"context"
	"errors"
)

// IDField is the name of the identity field every document carries.
const IDField = "_id"

// Document is a stored document: a map from field name to value.
type Document = map[string]any

// Selector is a set of equality conditions keyed by dotted field path.
type Selector map[string]any

// Update is a combined update operation.
type Update struct {
	// Set maps field paths to new values. A "$" path segment addresses the
	// array element matched by the selector.
	Set map[string]any `json:"$set,omitempty"`
	// Push maps field paths to values appended, in order, to the array there.
	Push map[string][]any `json:"$push,omitempty"`
	// ArrayFilters maps the name of a "$[name]" path segment to conditions on
	// array elements. The segment addresses every element matching them.
	ArrayFilters map[string]Selector `json:"arrayFilters,omitempty"`
}

// IsEmpty returns true if the update contains no operation.
func (u *Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Push) == 0
}

// FindOptions controls which matching document FindOne returns.
type FindOptions struct {
	// SortBy is a field path to sort ascending by. Empty keeps insertion order.
	SortBy string
	// Skip is the number of matching documents to skip.
	Skip int
}

// Collection is the capability surface of a single collection.
//
// Implementations must be safe for concurrent use.
type Collection interface {
	// FindOne returns the first matching document, or nil if none matches.
	FindOne(ctx context.Context, sel Selector, opts *FindOptions) (Document, error)
	// Insert stores a new document. The document must have an _id.
	Insert(ctx context.Context, doc Document) error
	// Update applies upd to the first matching document and returns the number
	// of documents matched (0 or 1).
	Update(ctx context.Context, sel Selector, upd Update) (int, error)
	// Remove deletes every matching document and returns how many were removed.
	Remove(ctx context.Context, sel Selector) (int, error)
	// Count returns the number of matching documents.
	Count(ctx context.Context, sel Selector) (int, error)
}

// Database is a set of named collections.
type Database interface {
	Collection(name string) Collection
	Close() error
}

var (
	// ErrMissingID is returned when inserting a document without an _id.
	ErrMissingID = errors.New("document has no _id")
	// ErrDuplicateID is returned when inserting a document whose _id exists.
	ErrDuplicateID = errors.New("duplicate _id")
	// ErrNoPosition is returned when an update uses "$" but the selector did
	// not traverse an array.
	ErrNoPosition = errors.New("positional operator did not find the match needed from the query")
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")
)
