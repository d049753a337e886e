package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return
// these (optionally wrapped) so the orchestrator can translate them
// into lifecycle outcomes and bus commands.
//
// These represent factual states about resources, not validation
// failures:
// - ErrNotFound: record does not exist in the store
// - ErrDuplicate: an IN_LOT session already exists for the plate
// - ErrCapacity: the lot is full, no entry may be created
// - ErrUnavailable: dependency temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("duplicate")
	ErrCapacity    = errors.New("capacity exceeded")
	ErrUnavailable = errors.New("unavailable")
)
