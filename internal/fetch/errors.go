package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hearthlist/wpcache/internal/origin"
)

var (
	ErrAllOriginsFailed = errors.New("all origins failed")
	ErrUndecodable      = errors.New("response body is not valid JSON")
)

// OriginUnreachableError is a network-level failure or a timeout.
type OriginUnreachableError struct {
	Origin  string
	Timeout bool
	Err     error
}

func (e *OriginUnreachableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("origin %s timed out: %v", e.Origin, e.Err)
	}
	return fmt.Sprintf("origin %s unreachable: %v", e.Origin, e.Err)
}

func (e *OriginUnreachableError) Unwrap() error { return e.Err }

// OriginRejectedError means the origin answered, but with a non-2xx status or
// a body that could not be decoded.
type OriginRejectedError struct {
	Origin string
	Status int
	Err    error
}

func (e *OriginRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("origin %s rejected (status %d): %v", e.Origin, e.Status, e.Err)
	}
	return fmt.Sprintf("origin %s rejected with status %d", e.Origin, e.Status)
}

func (e *OriginRejectedError) Unwrap() error { return e.Err }

type Attempt struct {
	Origin origin.Origin
	Err    error
}

type AllOriginsFailedError struct {
	Path     string
	Attempts []Attempt
}

func (e *AllOriginsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Err.Error())
	}
	return fmt.Sprintf("%s for %s: %s", ErrAllOriginsFailed, e.Path, strings.Join(parts, "; "))
}

func (e *AllOriginsFailedError) Is(target error) bool { return target == ErrAllOriginsFailed }

func (e *AllOriginsFailedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

// LastError returns the last recorded error for the given origin base URL.
func (e *AllOriginsFailedError) LastError(baseURL string) error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Origin.BaseURL == baseURL {
			return e.Attempts[i].Err
		}
	}
	return nil
}
