package domain

const (
	EventBookStatusChanged = "BookStatusChanged"
	EventBookDeleted       = "BookDeleted"

	AggregateType = "book"
)

type BookStatusChanged struct {
	BookID   string `json:"bookId"`
	Status   Status `json:"status"`
	Previous Status `json:"previous"`
}

type BookDeleted struct {
	BookID string `json:"bookId"`
}
