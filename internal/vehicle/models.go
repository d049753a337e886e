package vehicle

import "time"

// Status is the lifecycle state of a session held in persistence.
type Status string

const (
	StatusInLot  Status = "IN_LOT"
	StatusExited Status = "EXITED"
)

// PaymentStatus tracks whether the parking fee has been settled.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Session is one vehicle stay, created when entry finalizes and closed
// when exit finalizes. At most one IN_LOT session exists per plate.
type Session struct {
	ID            string
	Plate         string
	Credential    string
	EntryTime     time.Time
	ExitTime      *time.Time
	Fee           int64
	Status        Status
	PaymentStatus PaymentStatus
	EntryImageRef string
	ExitImageRef  string
	OperatorEntry string
	OperatorExit  string
}

// Entry carries the fields persisted when a vehicle enters.
type Entry struct {
	Plate      string
	Credential string
	EntryTime  time.Time
	ImageRef   string
	Operator   string
}

// Exit carries the fields persisted when a vehicle leaves paid.
type Exit struct {
	ExitTime time.Time
	Fee      int64
	ImageRef string
	Operator string
}

// HistoryFilter narrows History queries. Zero values match everything.
type HistoryFilter struct {
	Plate     string    // substring match
	EntryDate time.Time // sessions entered on this calendar day
}
