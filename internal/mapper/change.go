package mapper

import (
	"slices"
	"sync"

	"github.com/maruel/docmap/internal/typerule"
)

// ChangeKind identifies a pending change.
type ChangeKind int

const (
	// ChangeSet replaces a top-level field value.
	ChangeSet ChangeKind = iota
	// ChangeSetInArray replaces a field of an embedded array element.
	ChangeSetInArray
	// ChangePushToArray appends an element to an embedded array.
	ChangePushToArray
	// ChangePushLinked adds an element to a linked array.
	ChangePushLinked
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeSetInArray:
		return "setInArray"
	case ChangePushToArray:
		return "pushToArray"
	case ChangePushLinked:
		return "pushLinked"
	default:
		return "unknown"
	}
}

// ChangeRecord is one pending change of a document.
type ChangeRecord struct {
	Kind  ChangeKind
	Field string
	Value any
	// Container is the owner's array field holding the changed element, for
	// ChangeSetInArray.
	Container string
	// OwnerID is the identity of the changed array element, for
	// ChangeSetInArray.
	OwnerID any
	// Element is the pushed document, for ChangePushLinked.
	Element *Document

	rule *typerule.Rule
}

// target is the storage path a record writes to. Two records with the same
// target overwrite each other.
func (c ChangeRecord) target() targetKey {
	if c.Kind == ChangeSetInArray {
		return targetKey{container: c.Container, owner: c.OwnerID, field: c.Field}
	}
	return targetKey{field: c.Field}
}

type targetKey struct {
	container string
	owner     any
	field     string
}

// changeLog is the ordered list of pending changes, shared by a document and
// the embedded elements read from it.
type changeLog struct {
	mu      sync.Mutex
	records []ChangeRecord
}

func (l *changeLog) add(r ChangeRecord) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

// drain removes every record and returns them, most recent first.
func (l *changeLog) drain() []ChangeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChangeRecord, len(l.records))
	for i, r := range l.records {
		out[len(out)-1-i] = r
	}
	l.records = nil
	return out
}

// restore puts back records, oldest first, ahead of the ones recorded since
// they were drained.
func (l *changeLog) restore(records []ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(slices.Clone(records), l.records...)
}

func (l *changeLog) snapshot() []ChangeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChangeRecord, len(l.records))
	copy(out, l.records)
	return out
}
