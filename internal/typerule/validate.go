package typerule

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/maruel/docmap/internal/docerr"
)

func (r *Rule) validateDefault(field string, value any) error {
	if value == nil {
		return docerr.FieldInvalid(field, "is required")
	}
	switch r.base {
	case String, ID:
		s, ok := value.(string)
		if !ok {
			return docerr.FieldInvalid(field, fmt.Sprintf("must be a string, got %T", value))
		}
		if s == "" {
			return docerr.FieldInvalid(field, "is empty")
		}
		n := utf8.RuneCountInString(s)
		if r.minLen >= 0 && n < r.minLen {
			return docerr.FieldInvalid(field, fmt.Sprintf("is shorter than %d characters", r.minLen)).
				WithDetail("min", r.minLen).WithDetail("got", n)
		}
		if r.maxLen >= 0 && n > r.maxLen {
			return docerr.FieldInvalid(field, fmt.Sprintf("is longer than %d characters", r.maxLen)).
				WithDetail("max", r.maxLen).WithDetail("got", n)
		}
		if r.pattern != nil && !r.pattern.MatchString(s) {
			return docerr.FieldInvalid(field, fmt.Sprintf("does not match %s", r.pattern)).
				WithDetail("pattern", r.pattern.String())
		}
	case Number:
		if !isNumber(value) {
			return docerr.FieldInvalid(field, fmt.Sprintf("must be a number, got %T", value))
		}
	case Bool:
		if _, ok := value.(bool); !ok {
			return docerr.FieldInvalid(field, fmt.Sprintf("must be a boolean, got %T", value))
		}
	case Time:
		switch t := value.(type) {
		case time.Time:
			if t.IsZero() {
				return docerr.FieldInvalid(field, "is empty")
			}
		case string:
			if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
				return docerr.FieldInvalid(field, "must be an RFC 3339 time").Wrap(err)
			}
		default:
			return docerr.FieldInvalid(field, fmt.Sprintf("must be a time, got %T", value))
		}
	case Any:
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}
