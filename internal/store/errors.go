package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when an insert collides with an existing
// username.
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateEmail is returned when an insert collides with an existing
// email address.
var ErrDuplicateEmail = errors.New("email already registered")
