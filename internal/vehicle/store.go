package vehicle

import (
	"context"
	"time"
)

// Store is the persistence contract for vehicle sessions. Stores
// return sentinel.ErrNotFound for missing records and
// sentinel.ErrDuplicate when an IN_LOT session already exists for the
// plate.
type Store interface {
	// CreateEntry persists a new IN_LOT session and returns its id.
	CreateEntry(ctx context.Context, entry Entry) (string, error)

	// FindActiveByPlate returns the IN_LOT session for a plate.
	FindActiveByPlate(ctx context.Context, plate string) (*Session, error)

	// FindActiveByCredential returns the most recent IN_LOT session
	// for a credential.
	FindActiveByCredential(ctx context.Context, credential string) (*Session, error)

	// CloseExit marks a session exited and paid.
	CloseExit(ctx context.Context, id string, exit Exit) error

	// ActiveCount returns the number of IN_LOT sessions.
	ActiveCount(ctx context.Context) (int, error)

	// History lists sessions matching the filter, newest entry first.
	History(ctx context.Context, filter HistoryFilter) ([]Session, error)

	// Revenue sums fees of sessions exited within [from, to].
	Revenue(ctx context.Context, from, to time.Time) (int64, error)
}
