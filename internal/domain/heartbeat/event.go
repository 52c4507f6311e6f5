// Package heartbeat contains the pipeline's domain model: the event types
// that flow through the log, the per-subject rolling history the anomaly
// consumer maintains, and the anomaly rule engine that evaluates them.
// Nothing in this package performs I/O.
package heartbeat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/heartbeat-pipeline/pkg/errors"
)

// Hard invariant bounds on heart_rate, enforced at construction regardless
// of the configurable soft bounds applied at ingest.
const (
	MinHardHeartRate = 0
	MaxHardHeartRate = 250
)

// Anomaly type and severity vocabularies.
const (
	AnomalyTypeLowHeartRate  = "LOW_HEART_RATE"
	AnomalyTypeHighHeartRate = "HIGH_HEART_RATE"
	AnomalyTypeSpike         = "SPIKE"

	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// InvalidEvent error-type vocabulary.
const (
	ErrorTypeValidation = "VALIDATION"
	ErrorTypeProcessing = "PROCESSING"
)

// HeartbeatEvent is a single physiological reading for one subject.
// Its fields are exported so the type can round-trip through JSON, and it
// has no accessor methods: the constructors validate the fields, but nothing
// prevents a caller from modifying an instance afterwards.
type HeartbeatEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
	HeartRate  int       `json:"heart_rate"`
}

// NewHeartbeatEvent constructs a HeartbeatEvent, generating a fresh event ID
// and stamping the current UTC time. customerID is trimmed; an empty result
// or a heartRate outside the hard bounds [0, 250] fails construction with a
// CodeEventSchemaInvalid AppError.
func NewHeartbeatEvent(customerID string, heartRate int) (*HeartbeatEvent, error) {
	return newHeartbeatEvent(uuid.New(), customerID, time.Now().UTC(), heartRate)
}

// ReconstructHeartbeatEvent rebuilds a HeartbeatEvent from already-known
// fields (event ID, timestamp), used when decoding a wire message or a
// persisted row rather than originating a new reading.
func ReconstructHeartbeatEvent(eventID uuid.UUID, customerID string, timestamp time.Time, heartRate int) (*HeartbeatEvent, error) {
	return newHeartbeatEvent(eventID, customerID, timestamp, heartRate)
}

func newHeartbeatEvent(eventID uuid.UUID, customerID string, timestamp time.Time, heartRate int) (*HeartbeatEvent, error) {
	trimmed := strings.TrimSpace(customerID)
	if trimmed == "" {
		return nil, errors.New(errors.CodeEventSchemaInvalid, "customer_id must not be empty")
	}
	if heartRate < MinHardHeartRate || heartRate > MaxHardHeartRate {
		return nil, errors.New(errors.CodeEventSchemaInvalid, "heart_rate out of hard bounds").
			WithDetail("heart_rate=" + strconv.Itoa(heartRate))
	}
	return &HeartbeatEvent{
		EventID:    eventID,
		CustomerID: trimmed,
		Timestamp:  timestamp,
		HeartRate:  heartRate,
	}, nil
}

// WithinSoftBounds reports whether the event's heart rate falls within the
// configured domain bounds [min, max]. Callers use this at ingest time to
// decide whether the event is a soft-bounds quarantine candidate; it is
// never enforced at construction.
func (e *HeartbeatEvent) WithinSoftBounds(min, max int) bool {
	return e.HeartRate >= min && e.HeartRate <= max
}

// MarshalJSON implements a stable, round-trippable wire format: event_id,
// customer_id, timestamp (RFC 3339 UTC), heart_rate.
func (e *HeartbeatEvent) MarshalJSON() ([]byte, error) {
	type wire struct {
		EventID    uuid.UUID `json:"event_id"`
		CustomerID string    `json:"customer_id"`
		Timestamp  string    `json:"timestamp"`
		HeartRate  int       `json:"heart_rate"`
	}
	return json.Marshal(wire{
		EventID:    e.EventID,
		CustomerID: e.CustomerID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		HeartRate:  e.HeartRate,
	})
}

// UnmarshalJSON decodes a HeartbeatEvent from its wire form. Unknown keys
// are ignored. Input that is not valid JSON fails with CodeEventMalformed; a
// missing customer_id, event_id or heart_rate, or a timestamp that is not
// RFC 3339, fails with CodeEventSchemaInvalid. Decoded fields are NOT
// re-validated against the hard
// invariants here — callers that need a validated event should route the
// decoded fields through ReconstructHeartbeatEvent.
func (e *HeartbeatEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		EventID    uuid.UUID `json:"event_id"`
		CustomerID string    `json:"customer_id"`
		Timestamp  string    `json:"timestamp"`
		HeartRate  *int      `json:"heart_rate"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, errors.CodeEventMalformed, "heartbeat event is not valid JSON")
	}
	if wire.CustomerID == "" {
		return errors.New(errors.CodeEventSchemaInvalid, "customer_id is required")
	}
	if wire.EventID == uuid.Nil {
		return errors.New(errors.CodeEventSchemaInvalid, "event_id is required")
	}
	if wire.HeartRate == nil {
		return errors.New(errors.CodeEventSchemaInvalid, "heart_rate is required")
	}
	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return errors.Wrap(err, errors.CodeEventSchemaInvalid, "timestamp is not RFC 3339")
	}
	e.EventID = wire.EventID
	e.CustomerID = wire.CustomerID
	e.Timestamp = ts.UTC()
	e.HeartRate = *wire.HeartRate
	return nil
}

// AnomalyEvent is a HeartbeatEvent flagged by the rule engine, carrying the
// rule that fired and rule-specific context in Details.
type AnomalyEvent struct {
	EventID      uuid.UUID              `json:"event_id"`
	CustomerID   string                 `json:"customer_id"`
	Timestamp    time.Time              `json:"timestamp"`
	HeartRate    int                    `json:"heart_rate"`
	AnomalyType  string                 `json:"anomaly_type"`
	Severity     string                 `json:"severity"`
	Details      map[string]interface{} `json:"details"`
}

// MarshalJSON renders the anomaly in the same RFC 3339 UTC timestamp
// convention as HeartbeatEvent.
func (a *AnomalyEvent) MarshalJSON() ([]byte, error) {
	type wire struct {
		EventID     uuid.UUID              `json:"event_id"`
		CustomerID  string                 `json:"customer_id"`
		Timestamp   string                 `json:"timestamp"`
		HeartRate   int                    `json:"heart_rate"`
		AnomalyType string                 `json:"anomaly_type"`
		Severity    string                 `json:"severity"`
		Details     map[string]interface{} `json:"details"`
	}
	return json.Marshal(wire{
		EventID:     a.EventID,
		CustomerID:  a.CustomerID,
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339Nano),
		HeartRate:   a.HeartRate,
		AnomalyType: a.AnomalyType,
		Severity:    a.Severity,
		Details:     a.Details,
	})
}

// InvalidEvent is the quarantine envelope published to the invalid or
// dead-letter topics when a raw message cannot be processed.
type InvalidEvent struct {
	Error     string `json:"error"`
	Raw       string `json:"raw"`
	ErrorType string `json:"error_type"`
}

// NewInvalidEvent constructs an InvalidEvent, defaulting ErrorType to
// ErrorTypeValidation when empty.
func NewInvalidEvent(cause error, raw string, errorType string) *InvalidEvent {
	if errorType == "" {
		errorType = ErrorTypeValidation
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &InvalidEvent{
		Error:     msg,
		Raw:       raw,
		ErrorType: errorType,
	}
}
