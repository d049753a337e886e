package bus

import (
	"fmt"
	"time"
)

// Topics used by the controller. The device firmware owns the other
// side of this contract.
const (
	TopicData    = "parking/data"
	TopicAlert   = "parking/alert"
	TopicCommand = "parking/command"
	TopicManual  = "parking/manual"
	TopicStatus  = "parking/status"
)

// Outbound command payloads on TopicCommand.
const (
	CmdScanSuccessIn   = "PLATE_SCAN_SUCCESS_IN"
	CmdScanFailIn      = "PLATE_SCAN_FAIL_IN"
	CmdScanSuccessOut  = "PLATE_SCAN_SUCCESS_OUT"
	CmdScanFailOut     = "PLATE_SCAN_FAIL_OUT"
	CmdRFIDMismatch    = "RFID_MISMATCH_OUT"
	CmdVehicleNotFound = "VEHICLE_NOT_FOUND_OUT"
	CmdPaymentFail     = "PAYMENT_FAIL"
)

// Manual barrier payloads on TopicManual.
const (
	CmdBarrierInOpen   = "BARRIER_IN_OPEN"
	CmdBarrierInClose  = "BARRIER_IN_CLOSE"
	CmdBarrierOutOpen  = "BARRIER_OUT_OPEN"
	CmdBarrierOutClose = "BARRIER_OUT_CLOSE"
)

// Retained status payloads on TopicStatus.
const (
	StatusConnected    = "APP_CONNECTED"
	StatusDisconnected = "APP_DISCONNECTED"
)

// CmdPaymentSuccess builds the payment confirmation carrying the fee,
// e.g. "PAYMENT_SUCCESS:30000".
func CmdPaymentSuccess(fee int64) string {
	return fmt.Sprintf("PAYMENT_SUCCESS:%d", fee)
}

// Command is one outbound actuator message, owned by the queue until
// published.
type Command struct {
	Topic      string
	Payload    string
	QoS        byte
	Retain     bool
	EnqueuedAt time.Time
}
