package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrPriceUnavailable    = errors.New("mark price unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRequest      = errors.New("invalid trade request")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrKind classifies a venue error so callers can branch without inspecting
// venue-specific codes or message text.
type ErrKind string

const (
	// KindTransient marks the narrow class of errors known to succeed on a
	// single retry with a fresh connection (stale symbol-resolution state on
	// a pooled connection). Nothing else is retried.
	KindTransient ErrKind = "transient"
	// KindRejected marks a request the venue understood and refused
	// (untradable symbol, insufficient funds, bad quantity step).
	KindRejected ErrKind = "rejected"
	// KindAuth marks missing or invalid credentials.
	KindAuth ErrKind = "auth"
	// KindUnknown is everything else; treated as terminal for the call.
	KindUnknown ErrKind = "unknown"
)

// VenueError is a classified failure returned by a venue adapter call.
type VenueError struct {
	Venue   string
	Code    string
	Message string
	Kind    ErrKind
}

func (e *VenueError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: api error %s: %s", e.Venue, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Venue, e.Message)
}

// KindOf returns the ErrKind of err when it is (or wraps) a VenueError, and
// KindUnknown otherwise.
func KindOf(err error) ErrKind {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindUnknown
}
