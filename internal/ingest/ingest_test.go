package ingest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/motionlab-io/motiond/internal/models"
	"github.com/motionlab-io/motiond/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func strPtr(s string) *string        { return &s }
func intPtr(i int) *int              { return &i }
func f64Ptr(f float64) *float64      { return &f }
func timePtr(t time.Time) *time.Time { return &t }

func fullPayload() models.TelemetryPayload {
	capturedAt := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return models.TelemetryPayload{
		DeviceID:       strPtr("d1"),
		Kind:           strPtr("anomaly"),
		Acceleration:   &models.Vec3{X: 3, Y: 0, Z: 0},
		Gyroscope:      &models.Vec3{X: 0.1, Y: 0.2, Z: 0.3},
		Activity:       strPtr("walking"),
		VibrationLevel: strPtr("high"),
		Location:       &models.Location{Latitude: 52.52, Longitude: 13.405},
		BatteryLevel:   intPtr(84),
		CapturedAt:     timePtr(capturedAt),
	}
}

func TestIngest_FullPayload(t *testing.T) {
	s := newTestService(t)

	record, created, err := s.Ingest(fullPayload())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Error("first ingest must create the record")
	}
	if record.ID == "" {
		t.Error("record ID must be assigned")
	}
	if record.Kind != models.KindAnomaly {
		t.Errorf("kind = %q, want anomaly", record.Kind)
	}
	if record.Magnitude != 3.0 {
		t.Errorf("magnitude = %v, want 3.0 (recomputed from axes)", record.Magnitude)
	}
	if record.Vibration != models.VibrationHigh {
		t.Errorf("vibration = %q, want the client-reported high", record.Vibration)
	}
	if record.Activity != "walking" || record.BatteryLevel != 84 {
		t.Errorf("client-supplied fields lost: %+v", record)
	}
	if record.ReceivedAt.IsZero() {
		t.Error("receivedAt must be assigned at ingestion")
	}
}

func TestIngest_ClientMagnitudeIsIgnoredWhenAxesPresent(t *testing.T) {
	s := newTestService(t)

	p := fullPayload()
	p.Magnitude = f64Ptr(999) // lies
	record, _, err := s.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if record.Magnitude != 3.0 {
		t.Errorf("magnitude = %v, want 3.0 recomputed from axes", record.Magnitude)
	}
}

func TestIngest_MagnitudeOnlyPayload(t *testing.T) {
	s := newTestService(t)

	p := models.TelemetryPayload{
		DeviceID:  strPtr("d1"),
		Magnitude: f64Ptr(1.5),
	}
	record, created, err := s.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Error("expected a new record")
	}
	if record.Magnitude != 1.5 {
		t.Errorf("magnitude = %v, want 1.5", record.Magnitude)
	}
	if record.Vibration != models.VibrationLow {
		t.Errorf("vibration = %q, want the low default", record.Vibration)
	}
}

func TestIngest_Defaults(t *testing.T) {
	s := newTestService(t)

	p := models.TelemetryPayload{
		DeviceID:     strPtr("d1"),
		Acceleration: &models.Vec3{X: 0.3, Y: 0, Z: 1},
	}
	record, _, err := s.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if record.Kind != models.KindNormal {
		t.Errorf("kind = %q, want normal", record.Kind)
	}
	if record.Activity != "unknown" {
		t.Errorf("activity = %q, want unknown", record.Activity)
	}
	if record.Vibration != models.VibrationLow {
		t.Errorf("vibration = %q, want the low default", record.Vibration)
	}
	if record.BatteryLevel != 100 {
		t.Errorf("battery = %d, want 100", record.BatteryLevel)
	}
	if record.Location != (models.Location{}) {
		t.Errorf("location = %+v, want zero", record.Location)
	}
	if !record.CapturedAt.Equal(record.ReceivedAt) {
		t.Error("missing capturedAt must default to receivedAt")
	}
}

func TestIngest_MissingVibrationLevelDefaultsToLowRegardlessOfMagnitude(t *testing.T) {
	s := newTestService(t)

	// Magnitude well past any intensity a device would report as "low". The
	// level is still "low": it is never inferred from magnitude.
	p := models.TelemetryPayload{
		DeviceID:     strPtr("d1"),
		Acceleration: &models.Vec3{X: 3, Y: 0, Z: 0},
	}
	record, _, err := s.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if record.Magnitude != 3.0 {
		t.Fatalf("magnitude = %v, want 3.0", record.Magnitude)
	}
	if record.Vibration != models.VibrationLow {
		t.Errorf("vibration = %q, want low for a missing vibrationLevel", record.Vibration)
	}
}

func TestIngest_DuplicateReturnsOriginalRecord(t *testing.T) {
	s := newTestService(t)

	p := fullPayload()
	first, created, err := s.Ingest(p)
	if err != nil || !created {
		t.Fatalf("first ingest: created=%v err=%v", created, err)
	}

	// Same device and capture time: a redelivered event.
	p.BatteryLevel = intPtr(12)
	second, created, err := s.Ingest(p)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if created {
		t.Error("redelivery must not create a second record")
	}
	if second.ID != first.ID {
		t.Errorf("redelivery returned record %q, want original %q", second.ID, first.ID)
	}
	if second.BatteryLevel != first.BatteryLevel {
		t.Error("redelivery must not mutate the stored record")
	}
}

func TestIngest_InvalidShapes(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name    string
		payload models.TelemetryPayload
	}{
		{"missing device ID", models.TelemetryPayload{Acceleration: &models.Vec3{X: 1}}},
		{"empty device ID", models.TelemetryPayload{DeviceID: strPtr(""), Acceleration: &models.Vec3{X: 1}}},
		{"no acceleration and no magnitude", models.TelemetryPayload{DeviceID: strPtr("d1")}},
		{"negative magnitude", models.TelemetryPayload{DeviceID: strPtr("d1"), Magnitude: f64Ptr(-1)}},
		{"NaN magnitude", models.TelemetryPayload{DeviceID: strPtr("d1"), Magnitude: f64Ptr(math.NaN())}},
		{"NaN axis", models.TelemetryPayload{DeviceID: strPtr("d1"), Acceleration: &models.Vec3{X: math.NaN()}}},
		{"unknown kind", models.TelemetryPayload{DeviceID: strPtr("d1"), Acceleration: &models.Vec3{X: 1}, Kind: strPtr("wobble")}},
		{"unknown vibration level", models.TelemetryPayload{DeviceID: strPtr("d1"), Acceleration: &models.Vec3{X: 1}, VibrationLevel: strPtr("extreme")}},
		{"battery out of range", models.TelemetryPayload{DeviceID: strPtr("d1"), Acceleration: &models.Vec3{X: 1}, BatteryLevel: intPtr(101)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := s.Ingest(tc.payload); !errors.Is(err, ErrInvalidShape) {
				t.Errorf("err = %v, want ErrInvalidShape", err)
			}
		})
	}
}

func TestIngest_NotifiesSinksOnNewRecordsOnly(t *testing.T) {
	s := newTestService(t)

	var seen []models.TelemetryRecord
	s.Subscribe(func(r models.TelemetryRecord) { seen = append(seen, r) })

	p := fullPayload()
	if _, _, err := s.Ingest(p); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, _, err := s.Ingest(p); err != nil { // duplicate
		t.Fatalf("Ingest duplicate: %v", err)
	}

	if len(seen) != 1 {
		t.Errorf("sinks saw %d records, want 1 (duplicates are silent)", len(seen))
	}
}

func TestIngest_ReceivedAtMonotonicPerDevice(t *testing.T) {
	s := newTestService(t)

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	clock := base
	s.SetClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	})

	for i := 0; i < 5; i++ {
		p := models.TelemetryPayload{
			DeviceID:     strPtr("d1"),
			Acceleration: &models.Vec3{X: float64(i)},
			CapturedAt:   timePtr(base.Add(time.Duration(i) * time.Second)),
		}
		if _, _, err := s.Ingest(p); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	records, err := s.store.RangeQuery("d1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("RangeQuery: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ReceivedAt.Before(records[i-1].ReceivedAt) {
			t.Errorf("record %d: receivedAt regressed", i)
		}
	}
}
