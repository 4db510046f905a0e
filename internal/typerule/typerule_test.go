package typerule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maruel/docmap/internal/docerr"
)

func TestValidateDefault(t *testing.T) {
	short := Of(String).MinLength(2).MaxLength(5)
	tests := []struct {
		name  string
		rule  *Rule
		value any
		ok    bool
	}{
		{"string ok", short, "abc", true},
		{"string empty", short, "", false},
		{"string nil", short, nil, false},
		{"string too short", short, "a", false},
		{"string too long", short, "abcdef", false},
		{"string runes", short, "ééééé", true},
		{"string wrong type", short, 12, false},
		{"zero bounds", Of(String).MinLength(0).MaxLength(255), "x", true},
		{"pattern ok", Of(String).Matches(`^[a-z]+$`), "abc", true},
		{"pattern fail", Of(String).Matches(`^[a-z]+$`), "ABC", false},
		{"number int", Of(Number), 3, true},
		{"number float", Of(Number), 3.5, true},
		{"number string", Of(Number), "3", false},
		{"bool", Of(Bool), false, true},
		{"bool wrong", Of(Bool), "true", false},
		{"time", Of(Time), time.Now(), true},
		{"time string", Of(Time), "2024-01-02T03:04:05Z", true},
		{"time bad string", Of(Time), "yesterday", false},
		{"time zero", Of(Time), time.Time{}, false},
		{"id", Of(ID), "abc", true},
		{"any", Of(Any), []int{1}, true},
		{"any nil", Of(Any), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate("f", tt.value)
			if (err == nil) != tt.ok {
				t.Fatalf("Validate(%v) = %v", tt.value, err)
			}
			if err != nil && !errors.Is(err, docerr.ErrFieldInvalid) {
				t.Errorf("error kind = %q", docerr.KindOf(err))
			}
		})
	}
}

func TestImmutable(t *testing.T) {
	base := Of(String).MinLength(1)
	longer := base.MaxLength(3)
	if _, ok := base.MaxLen(); ok {
		t.Error("MaxLength mutated the receiver")
	}
	if n, ok := longer.MaxLen(); !ok || n != 3 {
		t.Errorf("MaxLen() = %d, %v", n, ok)
	}
	if n, ok := longer.MinLen(); !ok || n != 1 {
		t.Errorf("MinLen() = %d, %v", n, ok)
	}
	decorated := base.Decorate("upper", func(v any, _ ...any) (any, error) { return strings.ToUpper(v.(string)), nil })
	if len(base.Decorations()) != 0 {
		t.Error("Decorate mutated the receiver")
	}
	if len(decorated.Decorations()) != 1 {
		t.Error("Decorate lost the decoration")
	}
}

func TestChain(t *testing.T) {
	short := Of(String).MaxLength(5)
	upper := Of(short).Matches(`^[A-Z]`)
	strict := Of(upper).MinLength(3)
	chain := strict.Chain()
	if len(chain) != 3 || chain[0] != short || chain[1] != upper || chain[2] != strict {
		t.Fatalf("Chain() = %v", chain)
	}
	if strict.Base() != String {
		t.Errorf("Base() = %q", strict.Base())
	}
	// The number of rejecting rules is the number of errors.
	tests := []struct {
		value   string
		rejects int
	}{
		{"Abcd", 0},
		{"Abcdefg", 1},
		{"ab", 2},
		{"abcdefg", 2},
	}
	for _, tt := range tests {
		n := 0
		for _, r := range chain {
			if r.Validate("f", tt.value) != nil {
				n++
			}
		}
		if n != tt.rejects {
			t.Errorf("%q: %d rules rejected, want %d", tt.value, n, tt.rejects)
		}
	}
}

func TestOnValidate(t *testing.T) {
	even := Of(Number).OnValidate(func(field string, v any) error {
		if v.(int)%2 != 0 {
			return docerr.FieldInvalid(field, "must be even")
		}
		return nil
	})
	if err := even.Validate("n", 2); err != nil {
		t.Error(err)
	}
	if err := even.Validate("n", 3); err == nil {
		t.Error("expected error")
	}
	async := even.OnValidateAsync(func(ctx context.Context, field string, v any, done func(error)) {
		go done(nil)
	})
	if !async.IsAsync() || even.IsAsync() {
		t.Error("IsAsync() mismatch")
	}
	ch := make(chan error, 1)
	async.ValidateAsync(t.Context(), "n", 3, func(err error) { ch <- err })
	if err := <-ch; err != nil {
		t.Error(err)
	}
	// Synchronous rules report through done too.
	even.ValidateAsync(t.Context(), "n", 3, func(err error) { ch <- err })
	if err := <-ch; err == nil {
		t.Error("expected error")
	}
}

func TestTransforms(t *testing.T) {
	trim := Of(String).BeforeSave(func(_ context.Context, v any) (any, error) {
		return strings.TrimSpace(v.(string)), nil
	})
	lower := Of(trim).
		BeforeSave(func(_ context.Context, v any) (any, error) { return strings.ToLower(v.(string)), nil }).
		BeforeCreate(func(_ context.Context, v any) (any, error) { return v.(string) + "!", nil })
	got, err := lower.Apply(t.Context(), BeforeSave, "  HeLLo ")
	if err != nil || got != "hello" {
		t.Errorf("Apply(BeforeSave) = %v, %v", got, err)
	}
	got, err = lower.Apply(t.Context(), BeforeCreate, "x")
	if err != nil || got != "x!" {
		t.Errorf("Apply(BeforeCreate) = %v, %v", got, err)
	}
	if n := len(lower.Transforms(BeforeUpdate)); n != 0 {
		t.Errorf("BeforeUpdate transforms = %d", n)
	}
	errBoom := errors.New("boom")
	failing := Of(String).BeforeUpdate(func(context.Context, any) (any, error) { return nil, errBoom })
	if _, err := failing.Apply(t.Context(), BeforeUpdate, "x"); !errors.Is(err, errBoom) {
		t.Errorf("Apply() = %v", err)
	}
}

func TestFieldView(t *testing.T) {
	rule := Of(String).Decorate("shout", func(v any, args ...any) (any, error) {
		s := strings.ToUpper(v.(string))
		for _, a := range args {
			s += a.(string)
		}
		return s, nil
	})
	v, ok := View("name", "ole", rule)
	if !ok {
		t.Fatal("expected view")
	}
	got, err := v.Call("shout", "!", "?")
	if err != nil || got != "OLE!?" {
		t.Errorf("Call() = %v, %v", got, err)
	}
	if _, err := v.Call("whisper"); err == nil {
		t.Error("expected error for unknown method")
	}
	if m := v.Methods(); len(m) != 1 || m[0] != "shout" {
		t.Errorf("Methods() = %v", m)
	}
	if Unwrap(v) != "ole" || Unwrap("x") != "x" || Unwrap(&v) != "ole" {
		t.Error("Unwrap mismatch")
	}
	if _, ok := View("name", "ole", Of(String)); ok {
		t.Error("View without decorations")
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse(BaseType("blob")); err == nil {
		t.Error("expected error for unknown base type")
	}
	if _, err := Parse(42); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := Parse((*Rule)(nil)); err == nil {
		t.Error("expected error for nil rule")
	}
}
