// Document semantics shared by every backend: normalization, matching,
// update application and ordering.

package store

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Normalize converts v to its canonical JSON form: maps become
// map[string]any, slices []any, numbers float64, and types implementing
// json.Marshaler their marshaled value.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}

// NormalizeDocument returns a canonical deep copy of doc.
func NormalizeDocument(doc Document) (Document, error) {
	v, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	out, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document normalized to %T", v)
	}
	return out, nil
}

// NormalizeSelector returns sel with canonical values.
func NormalizeSelector(sel Selector) (Selector, error) {
	if len(sel) == 0 {
		return Selector{}, nil
	}
	out := make(Selector, len(sel))
	for k, v := range sel {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// NormalizeUpdate returns upd with canonical values.
func NormalizeUpdate(upd Update) (Update, error) {
	out := Update{}
	if len(upd.Set) > 0 {
		out.Set = make(map[string]any, len(upd.Set))
		for k, v := range upd.Set {
			n, err := Normalize(v)
			if err != nil {
				return Update{}, fmt.Errorf("$set %q: %w", k, err)
			}
			out.Set[k] = n
		}
	}
	if len(upd.Push) > 0 {
		out.Push = make(map[string][]any, len(upd.Push))
		for k, vs := range upd.Push {
			items := make([]any, len(vs))
			for i, v := range vs {
				n, err := Normalize(v)
				if err != nil {
					return Update{}, fmt.Errorf("$push %q: %w", k, err)
				}
				items[i] = n
			}
			out.Push[k] = items
		}
	}
	if len(upd.ArrayFilters) > 0 {
		out.ArrayFilters = make(map[string]Selector, len(upd.ArrayFilters))
		for name, sel := range upd.ArrayFilters {
			n, err := NormalizeSelector(sel)
			if err != nil {
				return Update{}, fmt.Errorf("array filter %q: %w", name, err)
			}
			out.ArrayFilters[name] = n
		}
	}
	return out, nil
}

// Match reports whether doc satisfies every condition of sel. The returned
// position is the index of the matching element within the first array
// traversed by a dotted path, or -1.
//
// sel must be normalized.
func Match(doc Document, sel Selector) (bool, int) {
	pos := -1
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !matchPath(doc, strings.Split(k, "."), sel[k], &pos) {
			return false, -1
		}
	}
	return true, pos
}

func matchPath(v any, parts []string, want any, pos *int) bool {
	if len(parts) == 0 {
		if equal(v, want) {
			return true
		}
		// An array field matches a scalar when any element equals it.
		if arr, ok := v.([]any); ok {
			for i, item := range arr {
				if equal(item, want) {
					if *pos < 0 {
						*pos = i
					}
					return true
				}
			}
		}
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := t[parts[0]]
		if !ok {
			return want == nil
		}
		return matchPath(child, parts[1:], want, pos)
	case []any:
		if i, err := strconv.Atoi(parts[0]); err == nil {
			if i < 0 || i >= len(t) {
				return want == nil
			}
			return matchPath(t[i], parts[1:], want, pos)
		}
		for i, item := range t {
			inner := -1
			if matchPath(item, parts, want, &inner) {
				if *pos < 0 {
					*pos = i
				}
				return true
			}
		}
		return false
	default:
		return want == nil
	}
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Apply applies upd to doc in place. pos is the positional index returned by
// Match, substituted for "$" path segments.
//
// upd must be normalized.
func Apply(doc Document, pos int, upd Update) error {
	for _, k := range sortedKeys(upd.Set) {
		paths, err := resolvePaths(doc, k, pos, upd.ArrayFilters)
		if err != nil {
			return err
		}
		for _, parts := range paths {
			if err := setPath(doc, parts, upd.Set[k]); err != nil {
				return fmt.Errorf("$set %q: %w", k, err)
			}
		}
	}
	for _, k := range sortedKeys(upd.Push) {
		paths, err := resolvePaths(doc, k, pos, upd.ArrayFilters)
		if err != nil {
			return err
		}
		for _, parts := range paths {
			if err := pushPath(doc, parts, upd.Push[k]); err != nil {
				return fmt.Errorf("$push %q: %w", k, err)
			}
		}
	}
	return nil
}

// resolvePaths expands the "$" and "$[name]" segments of path into concrete
// paths. A filtered segment expands to one path per matching element.
func resolvePaths(doc Document, path string, pos int, filters map[string]Selector) ([][]string, error) {
	parts, err := resolvePositional(path, pos)
	if err != nil {
		return nil, err
	}
	out := [][]string{nil}
	for _, p := range parts {
		name, ok := filterName(p)
		if !ok {
			for i := range out {
				out[i] = append(out[i], p)
			}
			continue
		}
		sel, ok := filters[name]
		if !ok {
			return nil, fmt.Errorf("no array filter for %q", name)
		}
		var next [][]string
		for _, prefix := range out {
			arr, _ := Lookup(doc, strings.Join(prefix, ".")).([]any)
			for i, item := range arr {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if match, _ := Match(m, sel); match {
					next = append(next, append(slices.Clone(prefix), strconv.Itoa(i)))
				}
			}
		}
		out = next
	}
	return out, nil
}

func filterName(segment string) (string, bool) {
	if len(segment) > 3 && strings.HasPrefix(segment, "$[") && strings.HasSuffix(segment, "]") {
		return segment[2 : len(segment)-1], true
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func resolvePositional(path string, pos int) ([]string, error) {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if p == "$" {
			if pos < 0 {
				return nil, ErrNoPosition
			}
			parts[i] = strconv.Itoa(pos)
		}
	}
	return parts, nil
}

// container walks to the parent of the last path element, creating
// intermediate maps as needed.
func container(doc Document, parts []string) (any, error) {
	var cur any = doc
	for _, p := range parts[:len(parts)-1] {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[p]
			if !ok || next == nil {
				next = map[string]any{}
				t[p] = next
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(t) {
				return nil, fmt.Errorf("invalid array index %q", p)
			}
			cur = t[i]
		default:
			return nil, fmt.Errorf("cannot traverse %T at %q", cur, p)
		}
	}
	return cur, nil
}

func setPath(doc Document, parts []string, value any) error {
	parent, err := container(doc, parts)
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	switch t := parent.(type) {
	case map[string]any:
		t[last] = value
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(t) {
			return fmt.Errorf("invalid array index %q", last)
		}
		t[i] = value
	default:
		return fmt.Errorf("cannot set into %T", parent)
	}
	return nil
}

func pushPath(doc Document, parts []string, values []any) error {
	parent, err := container(doc, parts)
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	m, ok := parent.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot push into %T", parent)
	}
	switch cur := m[last].(type) {
	case nil:
		m[last] = append([]any{}, values...)
	case []any:
		m[last] = append(cur, values...)
	default:
		return fmt.Errorf("field is %T, not an array", cur)
	}
	return nil
}

// Lookup returns the value at a dotted path, or nil.
func Lookup(doc Document, path string) any {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			cur = t[p]
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			cur = t[i]
		default:
			return nil
		}
	}
	return cur
}

// Compare orders two canonical values: nil first, then numbers, strings and
// booleans; anything else compares by its formatted representation.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case nil:
		return 0
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return cmp.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	default:
		return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

// Select returns the indexes of docs matching sel, ordered per opts, with
// the positional index of each match. sel must be normalized.
func Select(docs []Document, sel Selector, opts *FindOptions) (idx []int, positions []int) {
	for i, d := range docs {
		if ok, pos := Match(d, sel); ok {
			idx = append(idx, i)
			positions = append(positions, pos)
		}
	}
	if opts == nil {
		return idx, positions
	}
	if opts.SortBy != "" {
		order := make([]int, len(idx))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return Compare(Lookup(docs[idx[a]], opts.SortBy), Lookup(docs[idx[b]], opts.SortBy))
		})
		sortedIdx := make([]int, len(idx))
		sortedPos := make([]int, len(idx))
		for i, o := range order {
			sortedIdx[i] = idx[o]
			sortedPos[i] = positions[o]
		}
		idx, positions = sortedIdx, sortedPos
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(idx) {
			return nil, nil
		}
		idx, positions = idx[opts.Skip:], positions[opts.Skip:]
	}
	return idx, positions
}
