// Package detector implements the per-device anomaly state machine.
package detector

import (
	"sync"
	"time"

	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
)

// Config holds the detection rule parameters. CooldownDuration is required
// configuration and has no default.
type Config struct {
	AnomalyThreshold float64
	CooldownDuration time.Duration
	EmitNormalEvents bool
}

// DefaultConfig returns the default detection parameters. The cooldown
// duration is left zero: callers must set it explicitly.
func DefaultConfig() Config {
	return Config{
		AnomalyThreshold: 2.5,
		EmitNormalEvents: false,
	}
}

// StateStore persists cooldown deadlines across process restarts. Optional.
type StateStore interface {
	SaveCooldown(deviceID string, until time.Time) error
	LoadCooldowns() (map[string]time.Time, error)
}

// Detector consumes samples and emits at most one motion event per sample.
// A device is either NORMAL or in COOLDOWN; a zero deadline means NORMAL.
// Cooldown expiry is evaluated lazily on the next sample, not by a timer.
type Detector struct {
	mu        sync.Mutex
	config    Config
	cooldowns map[string]time.Time
	store     StateStore
	now       func() time.Time
}

// New creates a detector. store may be nil, in which case cooldown state is
// in-memory only and lost on restart.
func New(store StateStore, config Config) *Detector {
	d := &Detector{
		config:    config,
		cooldowns: make(map[string]time.Time),
		store:     store,
		now:       time.Now,
	}

	if store != nil {
		persisted, err := store.LoadCooldowns()
		if err != nil {
			logger.Warn("Failed to load persisted cooldowns: %v", err)
		} else if len(persisted) > 0 {
			d.cooldowns = persisted
			logger.Info("Loaded %d persisted device cooldowns", len(persisted))
		}
	}

	return d
}

// SetClock overrides the detector's time source. Used by tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// Process runs one sample through the state machine. It returns the emitted
// event, or nil when the sample produces none. Pure per-device logic: the
// caller must feed one device's samples in arrival order.
func (d *Detector) Process(sample models.SensorSample) *models.MotionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	magnitude := sample.Acceleration().Magnitude()

	until, coolingDown := d.cooldowns[sample.DeviceID]
	if coolingDown && now.Before(until) {
		// Suppressed regardless of magnitude.
		return d.maybeNormal(sample)
	}
	if coolingDown {
		delete(d.cooldowns, sample.DeviceID)
	}

	// Strictly greater: magnitude equal to the threshold is not anomalous.
	if magnitude > d.config.AnomalyThreshold {
		deadline := now.Add(d.config.CooldownDuration)
		d.cooldowns[sample.DeviceID] = deadline
		d.checkpoint(sample.DeviceID, deadline)

		ev := models.NewMotionEvent(models.KindAnomaly, sample)
		logger.Info("Anomaly detected for %s: magnitude=%.3f threshold=%.3f cooldown until %s",
			sample.DeviceID, magnitude, d.config.AnomalyThreshold, deadline.Format(time.RFC3339Nano))
		return &ev
	}

	return d.maybeNormal(sample)
}

func (d *Detector) maybeNormal(sample models.SensorSample) *models.MotionEvent {
	if !d.config.EmitNormalEvents {
		return nil
	}
	ev := models.NewMotionEvent(models.KindNormal, sample)
	return &ev
}

func (d *Detector) checkpoint(deviceID string, until time.Time) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveCooldown(deviceID, until); err != nil {
		logger.Warn("Failed to checkpoint cooldown for %s: %v", deviceID, err)
	}
}

// Shutdown checkpoints all active cooldowns.
func (d *Detector) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store == nil {
		return
	}
	logger.Info("Checkpointing %d device cooldowns before shutdown", len(d.cooldowns))
	for deviceID, until := range d.cooldowns {
		d.checkpoint(deviceID, until)
	}
}
