// Package types provides reusable field type rules.
package types

import (
	"context"
	"fmt"

	"github.com/maruel/docmap/internal/typerule"
	"golang.org/x/crypto/bcrypt"
)

// ShortString is a string of at most 255 characters.
var ShortString = typerule.Of(typerule.String).MinLength(0).MaxLength(255)

// Email is a ShortString shaped like an email address.
var Email = typerule.Of(ShortString).Matches(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Password is a string of at least 8 characters stored as a bcrypt hash.
// Reading the field exposes a "matches" method comparing a candidate password
// against the stored hash.
var Password = typerule.Of(typerule.String).
	MinLength(8).
	BeforeSave(hashPassword).
	Decorate("matches", matchPassword)

func hashPassword(_ context.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("password must be a string, got %T", v)
	}
	if isHash(s) {
		return s, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func isHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

func matchPassword(v any, args ...any) (any, error) {
	hash, ok := v.(string)
	if !ok {
		return false, fmt.Errorf("password must be a string, got %T", v)
	}
	if len(args) != 1 {
		return false, fmt.Errorf("matches takes 1 argument, got %d", len(args))
	}
	candidate, ok := args[0].(string)
	if !ok {
		return false, fmt.Errorf("candidate must be a string, got %T", args[0])
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil, nil
}
