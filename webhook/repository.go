package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Reader provides read operations for webhook records
type Reader interface {
	Get(ctx context.Context, id string) (Record, error)
	/* List returns the most recent records first, never more than filter.Limit
	 */
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountProcessedSince(ctx context.Context, since time.Time) (int64, error)
}

// Writer provides write operations for webhook records
type Writer interface {
	/* Create persists a new pending record
	 * Returns ErrDuplicateDelivery together with the stored record when the
	 * integration already delivered the same delivery id
	 */
	Create(ctx context.Context, record Record) (Record, error)
	/* The Mark* methods only apply to a record in processing status
	 * Any other status yields ErrInvalidTransition
	 */
	SetEventType(ctx context.Context, id string, eventType string) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error
	MarkFailed(ctx context.Context, id string, at time.Time, message string) error
}

// Claimer performs the atomic pending -> processing compare-and-set
type Claimer interface {
	/* Claim returns false, without error, when the record is not pending
	 * (another worker owns it or it already reached a terminal state)
	 */
	Claim(ctx context.Context, id string) (bool, error)
	/* ClaimDue selects and claims, in one atomic step, the records the
	 * retry scheduler is allowed to resubmit
	 */
	ClaimDue(ctx context.Context, filter DueFilter) ([]Record, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Claimer
	Close(ctx context.Context) error
}

// Submitter hands a job to whatever executes the processing entry point
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Dispatcher invokes the business handler for a classified record
type Dispatcher interface {
	Dispatch(ctx context.Context, record Record) error
}

// ClassifyFunc maps a raw payload to a canonical event type
type ClassifyFunc func(platform Platform, payload []byte) string
