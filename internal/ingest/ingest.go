// Package ingest validates raw telemetry payloads, fills server-side
// defaults, and appends them to the store exactly once per idempotency key.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
	"github.com/motionlab-io/motiond/internal/storage"
)

var (
	// ErrInvalidShape means the payload cannot be repaired into a record.
	ErrInvalidShape = errors.New("payload shape is invalid")
	// ErrStorageUnavailable means the append could not be attempted or
	// confirmed. The sender should retry with the same payload.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	defaultActivity     = "unknown"
	defaultBatteryLevel = 100
)

// Service is the single write path into the store. All sources (HTTP, MQTT
// bridges, Kafka) funnel through Ingest.
type Service struct {
	store *storage.Store
	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	sinks []func(models.TelemetryRecord)
}

// New creates an ingestion service over the store.
func New(store *storage.Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the service's time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Subscribe registers a callback invoked for every newly appended record.
// Duplicates do not trigger callbacks. Not safe to call after ingestion of
// traffic has started.
func (s *Service) Subscribe(fn func(models.TelemetryRecord)) {
	s.sinks = append(s.sinks, fn)
}

// Ingest validates and persists one payload. Returns the stored record and
// whether this call created it; a redelivery of an already stored event
// returns the original record with created == false.
func (s *Service) Ingest(payload models.TelemetryPayload) (*models.TelemetryRecord, bool, error) {
	if payload.DeviceID == nil || *payload.DeviceID == "" {
		return nil, false, fmt.Errorf("%w: deviceId is required", ErrInvalidShape)
	}

	// Per-device serialization keeps receivedAt assignment and the append
	// atomic, so stored order matches receivedAt order within a device.
	lock := s.deviceLock(*payload.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.buildRecord(payload, s.now())
	if err != nil {
		return nil, false, err
	}

	if err := s.store.Append(record); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			existing, getErr := s.store.GetByKey(record.Key())
			if getErr != nil {
				return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, getErr)
			}
			logger.Debug("Duplicate event %s collapsed onto record %s", record.Key(), existing.ID)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	for _, fn := range s.sinks {
		fn(*record)
	}
	return record, true, nil
}

func (s *Service) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

// buildRecord turns a payload into a complete record, applying defaults for
// optional fields and rejecting malformed required ones.
func (s *Service) buildRecord(p models.TelemetryPayload, receivedAt time.Time) (*models.TelemetryRecord, error) {
	if p.Acceleration == nil && p.Magnitude == nil {
		return nil, fmt.Errorf("%w: acceleration or magnitude is required", ErrInvalidShape)
	}

	var acceleration models.Vec3
	var magnitude float64
	if p.Acceleration != nil {
		acceleration = *p.Acceleration
		if !finite(acceleration.X) || !finite(acceleration.Y) || !finite(acceleration.Z) {
			return nil, fmt.Errorf("%w: acceleration axes must be finite numbers", ErrInvalidShape)
		}
		// The magnitude is always recomputed from the axes. A client-supplied
		// value alongside axes is ignored.
		magnitude = acceleration.Magnitude()
	} else {
		magnitude = *p.Magnitude
		if !finite(magnitude) || magnitude < 0 {
			return nil, fmt.Errorf("%w: magnitude must be a finite non-negative number", ErrInvalidShape)
		}
	}

	kind := models.KindNormal
	if p.Kind != nil {
		kind = models.EventKind(*p.Kind)
		if kind != models.KindNormal && kind != models.KindAnomaly {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidShape, *p.Kind)
		}
	}

	activity := defaultActivity
	if p.Activity != nil && *p.Activity != "" {
		activity = *p.Activity
	}

	// Missing vibration level is "low", regardless of magnitude. The level is
	// a device-reported classification, never inferred server-side.
	vibration := models.VibrationLow
	if p.VibrationLevel != nil {
		vibration = models.VibrationLevel(*p.VibrationLevel)
		if !vibration.Valid() {
			return nil, fmt.Errorf("%w: unknown vibration level %q", ErrInvalidShape, *p.VibrationLevel)
		}
	}

	battery := defaultBatteryLevel
	if p.BatteryLevel != nil {
		battery = *p.BatteryLevel
		if battery < 0 || battery > 100 {
			return nil, fmt.Errorf("%w: battery level must be between 0 and 100", ErrInvalidShape)
		}
	}

	var location models.Location
	if p.Location != nil {
		location = *p.Location
	}

	var gyroscope models.Vec3
	if p.Gyroscope != nil {
		gyroscope = *p.Gyroscope
	}

	capturedAt := receivedAt
	if p.CapturedAt != nil {
		if p.CapturedAt.IsZero() {
			return nil, fmt.Errorf("%w: capturedAt must be a valid timestamp", ErrInvalidShape)
		}
		capturedAt = *p.CapturedAt
	}

	return &models.TelemetryRecord{
		ID:           s.newID(),
		DeviceID:     *p.DeviceID,
		Kind:         kind,
		Magnitude:    magnitude,
		Acceleration: acceleration,
		Gyroscope:    gyroscope,
		Activity:     activity,
		Vibration:    vibration,
		BatteryLevel: battery,
		Location:     location,
		CapturedAt:   capturedAt,
		ReceivedAt:   receivedAt,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
