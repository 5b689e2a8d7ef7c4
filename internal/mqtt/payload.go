package mqtt

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// StateMessage is published retained on <prefix>/state for every transition.
type StateMessage struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	Mode      string    `json:"mode"`
	Reason    string    `json:"reason"`
}

// SampleMessage is published on <prefix>/sample. Non-finite measurements are
// encoded as null.
type SampleMessage struct {
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	Mode       string    `json:"mode"`
	WindSpeed  *float64  `json:"wind_speed"`
	RotorSpeed *float64  `json:"rotor_speed"`
	BusVoltage *float64  `json:"bus_voltage"`
	BusCurrent *float64  `json:"bus_current"`
	Power      *float64  `json:"power"`
	Lambda     *float64  `json:"lambda"`
	Cp         *float64  `json:"cp"`
	Duty       float64   `json:"duty"`
	Brake      bool      `json:"brake"`
}

type ackMessage struct {
	Ack bool `json:"ack"`
}

func NewStateMessage(runID string, tr turbine.Transition) StateMessage {
	return StateMessage{
		RunID:     runID,
		Timestamp: tr.Timestamp.UTC(),
		From:      tr.From.String(),
		Mode:      tr.To.String(),
		Reason:    tr.Reason,
	}
}

func NewSampleMessage(runID string, rec turbine.LogRecord) SampleMessage {
	return SampleMessage{
		RunID:      runID,
		Timestamp:  rec.Timestamp.UTC(),
		Mode:       rec.Mode.String(),
		WindSpeed:  finite(rec.WindSpeed),
		RotorSpeed: finite(rec.RotorSpeed),
		BusVoltage: finite(rec.BusVoltage),
		BusCurrent: finite(rec.BusCurrent),
		Power:      finite(rec.Power),
		Lambda:     finite(rec.Lambda),
		Cp:         finite(rec.Cp),
		Duty:       rec.DutyCycle,
		Brake:      rec.BrakeEngaged,
	}
}

// ParseAck reports whether a payload on the ack topic requests a fault
// acknowledgement. Accepted forms: empty, "1", "true", "ack" or {"ack":true}.
func ParseAck(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if json.Valid(trimmed) && len(trimmed) > 0 && trimmed[0] == '{' {
		var msg ackMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return false
		}
		return msg.Ack
	}

	switch strings.ToLower(string(trimmed)) {
	case "", "1", "true", "ack":
		return true
	default:
		return false
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
