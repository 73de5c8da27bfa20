// Package sampler produces periodic tri-axial samples for one logical device.
package sampler

import (
	"time"

	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
)

// Source reads one raw accelerometer measurement. An error means the sensor
// is currently unavailable; the sampler skips the tick and carries on.
type Source interface {
	Read() (models.Vec3, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (models.Vec3, error)

func (f SourceFunc) Read() (models.Vec3, error) { return f() }

// Sampler emits SensorSamples at a fixed nominal interval. Delivery is
// best-effort: a slow consumer loses samples rather than stalling the loop,
// and samples always arrive in capture order.
type Sampler struct {
	deviceID string
	interval time.Duration
	source   Source
	now      func() time.Time
}

// New creates a sampler for a single device.
func New(deviceID string, interval time.Duration, source Source) *Sampler {
	return &Sampler{
		deviceID: deviceID,
		interval: interval,
		source:   source,
		now:      time.Now,
	}
}

// SetClock overrides the sampler's time source. Used by tests.
func (s *Sampler) SetClock(now func() time.Time) {
	s.now = now
}

// Subscription is a handle on a running sample stream. C is closed after
// Unsubscribe returns.
type Subscription struct {
	C    <-chan models.SensorSample
	stop chan struct{}
	done chan struct{}
}

// Unsubscribe stops the sampling loop and waits for it to exit. Safe to call
// more than once.
func (sub *Subscription) Unsubscribe() {
	select {
	case <-sub.stop:
	default:
		close(sub.stop)
	}
	<-sub.done
}

// Subscribe starts the sampling loop and returns its handle. The sampler is
// restartable: a new subscription may be opened after the previous one is
// torn down.
func (s *Sampler) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	out := make(chan models.SensorSample, buffer)
	sub := &Subscription{
		C:    out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(out)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.stop:
				return
			case <-ticker.C:
				axes, err := s.source.Read()
				if err != nil {
					logger.Debug("Sensor read failed for %s: %v", s.deviceID, err)
					continue
				}
				sample := models.SensorSample{
					DeviceID:   s.deviceID,
					X:          axes.X,
					Y:          axes.Y,
					Z:          axes.Z,
					CapturedAt: s.now(),
				}
				select {
				case out <- sample:
				default:
					// Consumer is behind; best-effort delivery drops the sample.
					logger.Debug("Dropping sample for %s: subscriber backlog full", s.deviceID)
				}
			}
		}
	}()

	return sub
}
