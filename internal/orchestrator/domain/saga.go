package domain

import (
	"errors"
	"fmt"
	"time"
)

type SagaState string

const (
	StateStarted            SagaState = "started"
	StateChecked            SagaState = "checked"
	StatePersisted          SagaState = "persisted"
	StatePropagated         SagaState = "propagated"
	StateCompensationQueued SagaState = "compensation_queued"
	StateFailed             SagaState = "failed"
)

type Kind string

const (
	KindCreateReservation Kind = "create_reservation"
	KindCancelReservation Kind = "cancel_reservation"
)

var ErrIllegalTransition = errors.New("illegal saga transition")

// Cancel skips the check step, so persisted is reachable from started.
var transitions = map[SagaState][]SagaState{
	StateStarted:   {StateChecked, StatePersisted, StateFailed},
	StateChecked:   {StatePersisted, StateFailed},
	StatePersisted: {StatePropagated, StateCompensationQueued, StateFailed},
}

type Step struct {
	State SagaState
	At    time.Time
	Err   string
}

// Saga is the in-memory step log of one workflow run. It is not persisted.
type Saga struct {
	Kind          Kind
	ReservationID string
	BookID        string
	State         SagaState
	Steps         []Step

	now func() time.Time
}

func New(kind Kind, bookID string) *Saga {
	s := &Saga{Kind: kind, BookID: bookID, now: time.Now}
	s.record(StateStarted, nil)
	return s
}

func (s *Saga) Advance(to SagaState) error {
	return s.move(to, nil)
}

// Fail moves the saga to failed. A persisted saga that fails has left the
// two services out of sync.
func (s *Saga) Fail(cause error) error {
	return s.move(StateFailed, cause)
}

func (s *Saga) Terminal() bool {
	return len(transitions[s.State]) == 0
}

// Inconsistent reports whether the reservation write committed but the book
// service never saw the paired status change.
func (s *Saga) Inconsistent() bool {
	persisted := false
	for _, st := range s.Steps {
		if st.State == StatePersisted {
			persisted = true
		}
	}
	return persisted && (s.State == StateFailed || s.State == StateCompensationQueued)
}

// LogAttrs flattens the saga for slog.
func (s *Saga) LogAttrs() []any {
	path := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		path[i] = string(st.State)
	}
	attrs := []any{
		"saga", s.Kind,
		"state", s.State,
		"steps", path,
		"book_id", s.BookID,
	}
	if s.ReservationID != "" {
		attrs = append(attrs, "reservation_id", s.ReservationID)
	}
	if n := len(s.Steps); n > 0 && s.Steps[n-1].Err != "" {
		attrs = append(attrs, "err", s.Steps[n-1].Err)
	}
	if len(s.Steps) > 1 {
		attrs = append(attrs, "duration", s.Steps[len(s.Steps)-1].At.Sub(s.Steps[0].At))
	}
	return attrs
}

func (s *Saga) move(to SagaState, cause error) error {
	for _, allowed := range transitions[s.State] {
		if allowed == to {
			s.record(to, cause)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
}

func (s *Saga) record(to SagaState, cause error) {
	st := Step{State: to, At: s.now()}
	if cause != nil {
		st.Err = cause.Error()
	}
	s.State = to
	s.Steps = append(s.Steps, st)
}
