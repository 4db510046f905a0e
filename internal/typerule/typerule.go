// Package typerule builds reusable, composable field type rules.
//
// A Rule is immutable: every builder method returns a new Rule, so a rule can
// be shared by reference across fields and schemas. Passing a Rule to Of
// chains it: the resulting rule validates a value against the whole chain,
// oldest first.
//
//	ShortString := typerule.Of(typerule.String).MinLength(0).MaxLength(255)
//	Name := typerule.Of(ShortString).Matches(`^[A-Z]`)
package typerule

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
)

// BaseType is a built-in value type.
type BaseType string

const (
	// String accepts non-empty strings.
	String BaseType = "string"
	// Number accepts any Go numeric value.
	Number BaseType = "number"
	// Bool accepts booleans.
	Bool BaseType = "bool"
	// Time accepts time.Time and RFC 3339 strings.
	Time BaseType = "time"
	// ID accepts non-empty identifier strings.
	ID BaseType = "id"
	// Any accepts any non-nil value.
	Any BaseType = "any"
)

// Validator is a synchronous validator. It returns nil when value is valid.
type Validator func(field string, value any) error

// AsyncValidator is an asynchronous validator. It must call done exactly
// once; extra calls are ignored by the mapper.
type AsyncValidator func(ctx context.Context, field string, value any, done func(error))

// Transform rewrites a field value at a lifecycle point.
type Transform func(ctx context.Context, value any) (any, error)

// Decoration is a method exposed on the value read from a field.
type Decoration func(value any, args ...any) (any, error)

// Stage is a lifecycle point at which transforms run.
type Stage int

const (
	// BeforeSave runs before any persisting save, insert or update.
	BeforeSave Stage = iota
	// BeforeCreate runs before the insert of a new document.
	BeforeCreate
	// BeforeUpdate runs before a changed value is written by an update.
	BeforeUpdate
)

// Rule is an immutable field type rule.
type Rule struct {
	base   BaseType
	parent *Rule

	minLen  int
	maxLen  int
	pattern *regexp.Regexp

	validate      Validator
	validateAsync AsyncValidator
	decorations   map[string]Decoration
	transforms    [3][]Transform
}

// Of returns a rule for t, which is either a BaseType or a *Rule to chain.
// It panics on any other type; use Parse for dynamic input.
func Of(t any) *Rule {
	r, err := Parse(t)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse is like Of but returns an error for an unsupported type.
func Parse(t any) (*Rule, error) {
	switch v := t.(type) {
	case BaseType:
		if !v.valid() {
			return nil, fmt.Errorf("unknown base type %q", string(v))
		}
		return &Rule{base: v, minLen: -1, maxLen: -1}, nil
	case *Rule:
		if v == nil {
			return nil, fmt.Errorf("nil rule")
		}
		return &Rule{base: v.base, parent: v, minLen: -1, maxLen: -1}, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", t)
	}
}

func (b BaseType) valid() bool {
	switch b {
	case String, Number, Bool, Time, ID, Any:
		return true
	default:
		return false
	}
}

func (r *Rule) clone() *Rule {
	c := *r
	c.decorations = maps.Clone(r.decorations)
	for i := range c.transforms {
		c.transforms[i] = slices.Clone(r.transforms[i])
	}
	return &c
}

// MinLength rejects values shorter than n characters.
func (r *Rule) MinLength(n int) *Rule {
	c := r.clone()
	c.minLen = n
	return c
}

// MaxLength rejects values longer than n characters.
func (r *Rule) MaxLength(n int) *Rule {
	c := r.clone()
	c.maxLen = n
	return c
}

// Matches rejects string values not matching the regular expression. It
// panics if expr does not compile.
func (r *Rule) Matches(expr string) *Rule {
	c := r.clone()
	c.pattern = regexp.MustCompile(expr)
	return c
}

// OnValidate replaces the default validator.
func (r *Rule) OnValidate(fn Validator) *Rule {
	r.warnIfValidated()
	c := r.clone()
	c.validate = fn
	c.validateAsync = nil
	return c
}

// OnValidateAsync replaces the default validator with an asynchronous one.
func (r *Rule) OnValidateAsync(fn AsyncValidator) *Rule {
	r.warnIfValidated()
	c := r.clone()
	c.validate = nil
	c.validateAsync = fn
	return c
}

func (r *Rule) warnIfValidated() {
	if r.validate != nil || r.validateAsync != nil {
		slog.Warn("Replacing existing validator", "base", string(r.base))
	}
}

// Decorate attaches a method visible on the value read from any field using
// this rule.
func (r *Rule) Decorate(name string, fn Decoration) *Rule {
	c := r.clone()
	if c.decorations == nil {
		c.decorations = map[string]Decoration{}
	}
	c.decorations[name] = fn
	return c
}

// BeforeSave appends a transform run before every persisting save.
func (r *Rule) BeforeSave(fn Transform) *Rule {
	return r.addTransform(BeforeSave, fn)
}

// BeforeCreate appends a transform run before the first insert.
func (r *Rule) BeforeCreate(fn Transform) *Rule {
	return r.addTransform(BeforeCreate, fn)
}

// BeforeUpdate appends a transform run before a changed value is updated.
func (r *Rule) BeforeUpdate(fn Transform) *Rule {
	return r.addTransform(BeforeUpdate, fn)
}

func (r *Rule) addTransform(s Stage, fn Transform) *Rule {
	c := r.clone()
	c.transforms[s] = append(c.transforms[s], fn)
	return c
}

// Base returns the base type.
func (r *Rule) Base() BaseType {
	return r.base
}

// MinLen returns the minimum length constraint of this rule, if set.
func (r *Rule) MinLen() (int, bool) {
	return r.minLen, r.minLen >= 0
}

// MaxLen returns the maximum length constraint of this rule, if set.
func (r *Rule) MaxLen() (int, bool) {
	return r.maxLen, r.maxLen >= 0
}

// Pattern returns the regular expression constraint of this rule, if set.
func (r *Rule) Pattern() string {
	if r.pattern == nil {
		return ""
	}
	return r.pattern.String()
}

// IsAsync returns true if the rule validates asynchronously.
func (r *Rule) IsAsync() bool {
	return r.validateAsync != nil
}

// Chain returns the rules a value must satisfy, oldest first, ending with r.
func (r *Rule) Chain() []*Rule {
	var out []*Rule
	for c := r; c != nil; c = c.parent {
		out = append(out, c)
	}
	slices.Reverse(out)
	return out
}

// Decorations returns the decorations of the whole chain. Newer rules
// override older ones with the same name.
func (r *Rule) Decorations() map[string]Decoration {
	var out map[string]Decoration
	for _, c := range r.Chain() {
		if len(c.decorations) == 0 {
			continue
		}
		if out == nil {
			out = map[string]Decoration{}
		}
		maps.Copy(out, c.decorations)
	}
	return out
}

// Transforms returns the transforms of the whole chain for a stage, oldest
// rule first.
func (r *Rule) Transforms(s Stage) []Transform {
	var out []Transform
	for _, c := range r.Chain() {
		out = append(out, c.transforms[s]...)
	}
	return out
}

// Apply runs the stage transforms on value in order.
func (r *Rule) Apply(ctx context.Context, s Stage, value any) (any, error) {
	for _, fn := range r.Transforms(s) {
		v, err := fn(ctx, value)
		if err != nil {
			return nil, err
		}
		value = v
	}
	return value, nil
}

// Validate runs this rule's synchronous validator, custom or default. It
// does not walk the chain; callers validate every rule of Chain.
func (r *Rule) Validate(field string, value any) error {
	if r.validate != nil {
		return r.validate(field, value)
	}
	return r.validateDefault(field, value)
}

// ValidateAsync runs this rule's asynchronous validator, or reports the
// synchronous result through done.
func (r *Rule) ValidateAsync(ctx context.Context, field string, value any, done func(error)) {
	if r.validateAsync != nil {
		r.validateAsync(ctx, field, value, done)
		return
	}
	done(r.Validate(field, value))
}
