package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is a row of the outbox table. Producers fill the first six fields;
// the rest are owned by the store and the relay.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	LeaseUntil    time.Time
	RetryCount    int
	LastError     *string
	// NextAttemptAt holds a failed event back from LockBatch until its
	// backoff has elapsed.
	NextAttemptAt time.Time
}

// DefaultMaxRetries bounds how often a failing event returns to pending.
const DefaultMaxRetries = 10

const (
	BackoffBase = time.Second
	BackoffMax  = 5 * time.Minute
)

// RetryBackoff is the delay before attempt retryCount+1. It doubles per
// failure from BackoffBase and is capped at BackoffMax, so the default budget
// spans roughly eight and a half minutes.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	d := BackoffBase
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= BackoffMax {
			return BackoffMax
		}
	}
	return d
}
