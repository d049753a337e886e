package bus

import (
	"encoding/json"
	"fmt"
)

// Lane identifies a physical barrier/camera position.
type Lane string

const (
	LaneIn  Lane = "in"
	LaneOut Lane = "out"
)

// Event is the closed set of inbound bus events. Payloads arrive as
// JSON objects with an "event" discriminator; anything outside the
// known vocabulary parses to Unknown rather than being dropped.
type Event interface {
	eventName() string
}

// RFIDScanned carries the credential presented at a lane reader.
type RFIDScanned struct {
	Lane       Lane
	Credential string
}

// BarrierMoved reports an actuator state change.
type BarrierMoved struct {
	Lane Lane
	Open bool
}

// Alert is an emergency condition raised by the sensor controller.
type Alert struct {
	Type       string
	SmokeValue float64
}

// SmokeSensor is a periodic smoke sensor reading.
type SmokeSensor struct {
	Value     float64
	Status    string
	Threshold float64
}

// SmokeCleared signals the smoke level returned below threshold.
type SmokeCleared struct{}

// SlotUpdate reports current lot occupancy from the slot sensors.
type SlotUpdate struct {
	Occupied int
}

// Unknown preserves events outside the known vocabulary so handlers
// can log them instead of silently ignoring an unparsed string.
type Unknown struct {
	Name string
	Raw  []byte
}

func (RFIDScanned) eventName() string  { return "rfid_scanned" }
func (BarrierMoved) eventName() string { return "barrier_moved" }
func (Alert) eventName() string        { return "alert" }
func (SmokeSensor) eventName() string  { return "smoke_sensor" }
func (SmokeCleared) eventName() string { return "smoke_cleared" }
func (SlotUpdate) eventName() string   { return "slot_update" }
func (Unknown) eventName() string      { return "unknown" }

// wireEvent is the superset of fields the device firmware publishes.
type wireEvent struct {
	Event      string  `json:"event"`
	RFID       string  `json:"rfid,omitempty"`
	Type       string  `json:"type,omitempty"`
	SmokeValue float64 `json:"smoke_value,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Status     string  `json:"status,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Occupied   int     `json:"occupied,omitempty"`
}

// ParseEvent decodes one inbound bus message.
func ParseEvent(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decode bus event: %w", err)
	}
	if w.Event == "" {
		return nil, fmt.Errorf("bus event missing event field")
	}

	switch w.Event {
	case "RFID_IN_SUCCESS":
		return RFIDScanned{Lane: LaneIn, Credential: w.RFID}, nil
	case "RFID_OUT_SUCCESS":
		return RFIDScanned{Lane: LaneOut, Credential: w.RFID}, nil
	case "BARRIER_IN_OPENED":
		return BarrierMoved{Lane: LaneIn, Open: true}, nil
	case "BARRIER_IN_CLOSED":
		return BarrierMoved{Lane: LaneIn, Open: false}, nil
	case "BARRIER_OUT_OPENED":
		return BarrierMoved{Lane: LaneOut, Open: true}, nil
	case "BARRIER_OUT_CLOSED":
		return BarrierMoved{Lane: LaneOut, Open: false}, nil
	case "ALERT":
		typ := w.Type
		if typ == "" {
			typ = "ALERT"
		}
		return Alert{Type: typ, SmokeValue: w.SmokeValue}, nil
	case "SMOKE_SENSOR_DATA":
		return SmokeSensor{Value: w.Value, Status: w.Status, Threshold: w.Threshold}, nil
	case "SMOKE_CLEARED":
		return SmokeCleared{}, nil
	case "SLOT_UPDATE":
		return SlotUpdate{Occupied: w.Occupied}, nil
	default:
		return Unknown{Name: w.Event, Raw: payload}, nil
	}
}
