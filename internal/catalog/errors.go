package catalog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	Unreachable       ErrorKind = "unreachable"
	AuthRejected      ErrorKind = "auth_rejected"
	MalformedResponse ErrorKind = "malformed_response"
)

// FetchError is returned by Client.Fetch for every failure.
type FetchError struct {
	Kind   ErrorKind
	Status int // HTTP status when one was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog fetch %s (http %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("catalog fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" when err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
