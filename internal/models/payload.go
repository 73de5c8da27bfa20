package models

import "time"

// TelemetryPayload is the JSON body accepted by POST /sensor-data and
// published by agents over HTTP, MQTT, and Kafka. Every field is a pointer
// so ingestion can tell an absent field apart from a zero value.
type TelemetryPayload struct {
	DeviceID       *string    `json:"deviceId"`
	Kind           *string    `json:"kind,omitempty"`
	Acceleration   *Vec3      `json:"acceleration,omitempty"`
	Gyroscope      *Vec3      `json:"gyroscope,omitempty"`
	Magnitude      *float64   `json:"magnitude,omitempty"`
	Activity       *string    `json:"activity,omitempty"`
	VibrationLevel *string    `json:"vibrationLevel,omitempty"`
	Location       *Location  `json:"location,omitempty"`
	BatteryLevel   *int       `json:"batteryLevel,omitempty"`
	CapturedAt     *time.Time `json:"capturedAt,omitempty"`
	ReceivedAt     *time.Time `json:"receivedAt,omitempty"`
}

// PayloadFromEvent converts a motion event into its wire form.
func PayloadFromEvent(event MotionEvent) TelemetryPayload {
	kind := string(event.Kind)
	acc := event.Acceleration
	magnitude := event.Magnitude
	capturedAt := event.CapturedAt
	return TelemetryPayload{
		DeviceID:     &event.DeviceID,
		Kind:         &kind,
		Acceleration: &acc,
		Gyroscope:    event.Gyroscope,
		Magnitude:    &magnitude,
		Location:     event.Location,
		BatteryLevel: event.BatteryLevel,
		CapturedAt:   &capturedAt,
	}
}

// IngestResponse is the collector's reply to POST /sensor-data.
type IngestResponse struct {
	Success  bool   `json:"success"`
	RecordID string `json:"recordId,omitempty"`
	Error    string `json:"error,omitempty"`
}
