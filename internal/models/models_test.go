package models

import (
	"math"
	"testing"
	"time"
)

func TestVec3Magnitude(t *testing.T) {
	tests := []struct {
		name string
		v    Vec3
		want float64
	}{
		{"zero", Vec3{}, 0},
		{"unit x", Vec3{X: 1}, 1},
		{"pythagorean", Vec3{X: 3, Y: 4}, 5},
		{"all axes", Vec3{X: 1, Y: 2, Z: 2}, 3},
		{"negative axes", Vec3{X: -3, Y: 0, Z: -4}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.v.Magnitude()
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Magnitude() = %v, want %v", got, tt.want)
			}
			if got < 0 {
				t.Errorf("Magnitude() = %v, must be non-negative", got)
			}
		})
	}
}

func TestNewMotionEventComputesMagnitude(t *testing.T) {
	sample := SensorSample{
		DeviceID:   "device-1",
		X:          3, Y: 0, Z: 4,
		CapturedAt: time.Now(),
	}
	ev := NewMotionEvent(KindAnomaly, sample)
	if ev.Magnitude != 5 {
		t.Errorf("magnitude = %v, want 5", ev.Magnitude)
	}
	if ev.Kind != KindAnomaly {
		t.Errorf("kind = %v, want anomaly", ev.Kind)
	}
}

func TestEventKeyStable(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	a := MotionEvent{DeviceID: "d1", CapturedAt: at}
	b := MotionEvent{DeviceID: "d1", CapturedAt: at}
	if a.Key() != b.Key() {
		t.Errorf("keys differ for identical device and capture time: %q vs %q", a.Key(), b.Key())
	}
	c := MotionEvent{DeviceID: "d2", CapturedAt: at}
	if a.Key() == c.Key() {
		t.Error("keys collide across devices")
	}
}

func TestVibrationLevelValid(t *testing.T) {
	for _, level := range []VibrationLevel{VibrationLow, VibrationMedium, VibrationHigh} {
		if !level.Valid() {
			t.Errorf("%q must be valid", level)
		}
	}
	for _, level := range []VibrationLevel{"", "extreme", "LOW"} {
		if level.Valid() {
			t.Errorf("%q must not be valid", level)
		}
	}
}

func TestMotionEventValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		event   MotionEvent
		wantErr bool
	}{
		{
			name:    "valid",
			event:   MotionEvent{DeviceID: "d1", Kind: KindNormal, Magnitude: 1.0, CapturedAt: now},
			wantErr: false,
		},
		{
			name:    "empty device",
			event:   MotionEvent{Kind: KindNormal, CapturedAt: now},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			event:   MotionEvent{DeviceID: "d1", Kind: "spurious", CapturedAt: now},
			wantErr: true,
		},
		{
			name:    "negative magnitude",
			event:   MotionEvent{DeviceID: "d1", Kind: KindNormal, Magnitude: -1, CapturedAt: now},
			wantErr: true,
		},
		{
			name:    "zero capture time",
			event:   MotionEvent{DeviceID: "d1", Kind: KindNormal},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTelemetryRecordValidate(t *testing.T) {
	now := time.Now()
	valid := TelemetryRecord{
		ID:           "rec-1",
		DeviceID:     "d1",
		Kind:         KindAnomaly,
		Magnitude:    3.0,
		Activity:     "unknown",
		Vibration:    VibrationHigh,
		BatteryLevel: 100,
		CapturedAt:   now,
		ReceivedAt:   now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	battery := valid
	battery.BatteryLevel = 101
	if err := battery.Validate(); err == nil {
		t.Error("expected error for battery level above 100")
	}

	vibration := valid
	vibration.Vibration = "extreme"
	if err := vibration.Validate(); err == nil {
		t.Error("expected error for unknown vibration level")
	}

	received := valid
	received.ReceivedAt = time.Time{}
	if err := received.Validate(); err == nil {
		t.Error("expected error for zero received at")
	}
}
