package libraryclient

import "context"

// Session pairs the API client with the projection the way a UI uses them:
// successful writes update the mirror without a refetch.
type Session struct {
	Client     *Client
	Projection *Projection
}

func (s *Session) Reserve(ctx context.Context, userID, bookID, date string) (Reservation, error) {
	r, pending, err := s.Client.Reserve(ctx, userID, bookID, date)
	if err != nil {
		return Reservation{}, err
	}
	s.Projection.SetStatus(bookID, StatusReserved, pending)
	return r, nil
}

func (s *Session) Cancel(ctx context.Context, r Reservation) error {
	pending, err := s.Client.Cancel(ctx, r.ID)
	if err != nil {
		return err
	}
	if r.Status == "active" {
		s.Projection.SetStatus(r.BookID, StatusAvailable, pending)
	}
	return nil
}
