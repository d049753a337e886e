package audit

import "time"

// Action classifies an audit record.
type Action string

const (
	ActionVehicleEntered   Action = "vehicle_entered"
	ActionVehicleExited    Action = "vehicle_exited"
	ActionPaymentMatched   Action = "payment_matched"
	ActionPaymentTimeout   Action = "payment_timeout"
	ActionPaymentCancelled Action = "payment_cancelled"
	ActionCashOverride     Action = "cash_override"
	ActionAlertRaised      Action = "alert_raised"
	ActionManualBarrier    Action = "manual_barrier"
)

// Record is one auditable event from the lot. It stays
// transport-agnostic so sinks can fan out without caring what produced
// it.
type Record struct {
	Action      Action    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	Plate       string    `json:"plate,omitempty"`
	Credential  string    `json:"credential,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Lane        string    `json:"lane,omitempty"`
	Fee         int64     `json:"fee,omitempty"`
	Hours       int64     `json:"hours,omitempty"`
	Operator    string    `json:"operator,omitempty"`
	AlertType   string    `json:"alert_type,omitempty"`
	SmokeValue  float64   `json:"smoke_value,omitempty"`
	Description string    `json:"description,omitempty"`
}
