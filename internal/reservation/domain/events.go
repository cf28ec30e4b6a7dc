package domain

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationCancelled = "ReservationCancelled"
	// EventBookStatusRequested is a queued compensation: push Status to the
	// book service until it succeeds.
	EventBookStatusRequested = "BookStatusRequested"

	AggregateReservation = "reservation"
	AggregateBook        = "book"
)

type ReservationCreated struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BookID      string `json:"bookId"`
	DataReserva string `json:"dataReserva"`
	Status      Status `json:"status"`
}

type ReservationCancelled struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	BookID         string `json:"bookId"`
	PreviousStatus Status `json:"previousStatus"`
}

type BookStatusRequested struct {
	ReservationID string     `json:"reservationId"`
	BookID        string     `json:"bookId"`
	Status        BookStatus `json:"status"`
	Cause         string     `json:"cause"`
}
