package payment

import (
	"context"
	"time"
)

// Session is one pending QR payment awaiting a matching bank transfer.
type Session struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Plate       string    `json:"plate"`
	Hours       int64     `json:"hours"`
	VehicleRef  string    `json:"vehicle_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionStore holds pending payment sessions. Remove reports whether
// the session was still present, which is how concurrent resolvers
// (match, timeout, cancel) decide who fires the callback.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Remove(ctx context.Context, id string) (bool, error)
	ActiveIDs(ctx context.Context) ([]string, error)
}
