package store

import (
	"context"
	"errors"

	"github.com/intentx-hq/intentd/pkg/models"
)

var (
	// ErrDuplicateID is returned by Put when the intent id already exists.
	ErrDuplicateID = errors.New("intent id already exists")
	// ErrNotFound is returned when no intent matches the given id.
	ErrNotFound = errors.New("intent not found")
	// ErrStaleState is returned by CompareAndTransition when the current
	// status does not match the expected one. It signals a lost race, not a
	// failure: the caller observes the intent already moved on.
	ErrStaleState = errors.New("intent status does not match expected status")
)

// Mutation is applied to an intent inside CompareAndTransition while the
// store holds its exclusivity guarantee. It must only touch status,
// executed amount/time, attempts, fail reason and settlement ref.
type Mutation func(*models.Intent)

// Store is the durable record of all intents. Implementations must
// linearize CompareAndTransition calls against the same id: of two
// concurrent calls, exactly one observes the expected status.
type Store interface {
	// Put inserts a new intent, failing with ErrDuplicateID on id collision.
	Put(ctx context.Context, intent *models.Intent) error

	// Get returns the intent or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Intent, error)

	// ListByUser returns all intents owned by the address (case-insensitive),
	// most-recent-first by creation time.
	ListByUser(ctx context.Context, userAddress string) ([]*models.Intent, error)

	// ListPending returns all pending intents oldest-first, so the scheduler
	// sweeps in FIFO order.
	ListPending(ctx context.Context) ([]*models.Intent, error)

	// ListExecuting returns intents left in the executing state. Used for
	// crash recovery at startup.
	ListExecuting(ctx context.Context) ([]*models.Intent, error)

	// CompareAndTransition atomically checks the current status equals
	// expected, applies the mutation and returns the updated intent.
	// Fails with ErrNotFound or ErrStaleState.
	CompareAndTransition(ctx context.Context, id string, expected models.Status, mutate Mutation) (*models.Intent, error)

	// Stats aggregates counts and executed volume, scoped to a user when
	// userAddress is non-empty.
	Stats(ctx context.Context, userAddress string) (models.Analytics, error)

	Close() error
}
