package domain

import "errors"

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrBookNotFound        = errors.New("book not found")
)

var (
	// ErrBookUnavailable is the Conflict case: the book is not available.
	ErrBookUnavailable    = errors.New("book not available for reservation")
	ErrInvalidReservation = errors.New("invalid reservation")
)

var (
	ErrUpstreamUnavailable = errors.New("book service unavailable")
	// ErrInconsistentState is logged when a reservation is persisted but the
	// book status change did not reach the book service. Never returned.
	ErrInconsistentState = errors.New("reservation and book status out of sync")
)
