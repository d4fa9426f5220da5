package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a mutation targets a record owned by someone else.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert collides with a unique constraint.
var ErrConflict = errors.New("already exists")
