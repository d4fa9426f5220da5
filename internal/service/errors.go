package service

import "errors"

var (
	// ErrUnauthenticated means the bearer token was missing, malformed or
	// rejected by the session authority.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the principal does not own the target key.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the key does not exist or is already revoked.
	ErrNotFound = errors.New("api key not found")
	// ErrInvalid means the request input was malformed.
	ErrInvalid = errors.New("invalid request")
	// ErrUpstream means the store could not be reached.
	ErrUpstream = errors.New("upstream failure")
	// ErrInternal means key generation or hashing failed.
	ErrInternal = errors.New("internal error")
)
