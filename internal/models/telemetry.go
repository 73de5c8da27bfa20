// Package models defines the core domain entities: samples, motion events,
// telemetry records, and window statistics.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EventKind classifies a motion event.
type EventKind string

const (
	KindNormal  EventKind = "normal"
	KindAnomaly EventKind = "anomaly"
)

// VibrationLevel buckets the intensity of a motion event.
type VibrationLevel string

const (
	VibrationLow    VibrationLevel = "low"
	VibrationMedium VibrationLevel = "medium"
	VibrationHigh   VibrationLevel = "high"
)

// Valid reports whether v is one of the known vibration levels.
func (v VibrationLevel) Valid() bool {
	return v == VibrationLow || v == VibrationMedium || v == VibrationHigh
}

// Vec3 holds one tri-axial reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm of the vector. Always non-negative.
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Location is a geographic fix attached to an event or record.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SensorSample is a single raw accelerometer reading. Samples are ephemeral:
// they flow from the sampler into the detector and are never persisted.
type SensorSample struct {
	DeviceID   string
	X, Y, Z    float64
	CapturedAt time.Time
}

// Acceleration returns the sample axes as a vector.
func (s SensorSample) Acceleration() Vec3 {
	return Vec3{X: s.X, Y: s.Y, Z: s.Z}
}

// MotionEvent is emitted by the detector and owned by the dispatcher until
// acknowledged or dropped. Immutable once created.
type MotionEvent struct {
	DeviceID     string     `json:"deviceId"`
	Kind         EventKind  `json:"kind"`
	Magnitude    float64    `json:"magnitude"`
	Acceleration Vec3       `json:"acceleration"`
	Gyroscope    *Vec3      `json:"gyroscope,omitempty"`
	CapturedAt   time.Time  `json:"capturedAt"`
	Location     *Location  `json:"location,omitempty"`
	BatteryLevel *int       `json:"batteryLevel,omitempty"`
}

// NewMotionEvent builds an event from a sample. The magnitude is computed
// from the axes, never supplied by a caller.
func NewMotionEvent(kind EventKind, sample SensorSample) MotionEvent {
	acc := sample.Acceleration()
	return MotionEvent{
		DeviceID:     sample.DeviceID,
		Kind:         kind,
		Magnitude:    acc.Magnitude(),
		Acceleration: acc,
		CapturedAt:   sample.CapturedAt,
	}
}

// Key returns the stable idempotency key for the event. A redelivery caused
// by a retry after an unacknowledged write carries the same key and is
// collapsed at ingestion.
func (e MotionEvent) Key() string {
	return EventKey(e.DeviceID, e.CapturedAt)
}

// EventKey builds the idempotency key for a device and capture time.
func EventKey(deviceID string, capturedAt time.Time) string {
	return fmt.Sprintf("%s:%d", deviceID, capturedAt.UnixNano())
}

// Validate checks motion event field constraints.
func (e MotionEvent) Validate() error {
	if e.DeviceID == "" {
		return errors.New("device ID must not be empty")
	}
	if e.Kind != KindNormal && e.Kind != KindAnomaly {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Magnitude < 0 {
		return errors.New("magnitude must not be negative")
	}
	if e.CapturedAt.IsZero() {
		return errors.New("captured at must be set")
	}
	return nil
}

// TelemetryRecord is the persisted form of a motion event. Once written a
// record is never mutated or reordered.
type TelemetryRecord struct {
	ID           string         `json:"id"`
	DeviceID     string         `json:"deviceId"`
	Kind         EventKind      `json:"kind"`
	Magnitude    float64        `json:"magnitude"`
	Acceleration Vec3           `json:"acceleration"`
	Gyroscope    Vec3           `json:"gyroscope"`
	Activity     string         `json:"activity"`
	Vibration    VibrationLevel `json:"vibrationLevel"`
	BatteryLevel int            `json:"batteryLevel"`
	Location     Location       `json:"location"`
	CapturedAt   time.Time      `json:"capturedAt"`
	ReceivedAt   time.Time      `json:"receivedAt"`
}

// Key returns the record's idempotency key.
func (r TelemetryRecord) Key() string {
	return EventKey(r.DeviceID, r.CapturedAt)
}

// Validate checks record field constraints.
func (r TelemetryRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record ID must not be empty")
	}
	if r.DeviceID == "" {
		return errors.New("device ID must not be empty")
	}
	if r.Kind != KindNormal && r.Kind != KindAnomaly {
		return fmt.Errorf("unknown event kind %q", r.Kind)
	}
	if r.Magnitude < 0 {
		return errors.New("magnitude must not be negative")
	}
	if !r.Vibration.Valid() {
		return fmt.Errorf("unknown vibration level %q", r.Vibration)
	}
	if r.BatteryLevel < 0 || r.BatteryLevel > 100 {
		return errors.New("battery level must be between 0 and 100")
	}
	if r.ReceivedAt.IsZero() {
		return errors.New("received at must be set")
	}
	return nil
}

// WindowStats aggregates records whose receivedAt falls in
// [WindowStart, WindowEnd). Derived on read, never persisted.
type WindowStats struct {
	WindowStart  time.Time `json:"windowStart"`
	WindowEnd    time.Time `json:"windowEnd"`
	Count        int       `json:"count"`
	AvgMagnitude float64   `json:"avgMagnitude"`
	MinMagnitude float64   `json:"minMagnitude"`
	MaxMagnitude float64   `json:"maxMagnitude"`
}
