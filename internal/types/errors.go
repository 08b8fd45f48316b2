package types

import (
	"errors"
	"fmt"
)

// FetchError reports a failed scrape: navigation, timeout, or render
// failure. The URL is kept for logging; Err carries the cause.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// GenerationError reports a text-completion failure: upstream error,
// timeout, or an empty/malformed response.
type GenerationError struct {
	Stage string // "writer", "reviewer", "chat"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrEmptyCompletion is wrapped by GenerationError when the model returns
// no usable text. Treated the same as an upstream failure.
var ErrEmptyCompletion = errors.New("empty completion")

// StoreError reports a version-store failure. NotFound distinguishes a
// missing id from store unavailability.
type StoreError struct {
	Op       string // "append", "list", "get", "promote", "bootstrap"
	NotFound bool
	Err      error
}

func (e *StoreError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("store %s: not found", e.Op)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError reports a malformed action: bad URL, empty edit, or an
// action that is not legal in the session's current state. It is handled
// inside the session manager and never reaches a capability call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsNotFound reports whether err is a StoreError for a missing id.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.NotFound
}
