package detector

import (
	"testing"
	"time"

	"github.com/motionlab-io/motiond/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(cfg Config) (*Detector, *fakeClock) {
	d := New(nil, cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d.SetClock(clock.now)
	return d, clock
}

func sampleAt(clock *fakeClock, deviceID string, x, y, z float64) models.SensorSample {
	return models.SensorSample{
		DeviceID:   deviceID,
		X:          x,
		Y:          y,
		Z:          z,
		CapturedAt: clock.t,
	}
}

func TestDetector_CooldownScenario(t *testing.T) {
	// threshold 2.5, cooldown 3000ms: anomaly at t=0, suppressed at t=1000,
	// anomaly again at t=3100.
	d, clock := newTestDetector(Config{
		AnomalyThreshold: 2.5,
		CooldownDuration: 3 * time.Second,
	})

	ev := d.Process(sampleAt(clock, "d1", 3, 0, 0))
	if ev == nil || ev.Kind != models.KindAnomaly {
		t.Fatalf("t=0: expected anomaly, got %+v", ev)
	}
	if ev.Magnitude != 3.0 {
		t.Errorf("t=0: magnitude = %v, want 3.0", ev.Magnitude)
	}

	clock.advance(1000 * time.Millisecond)
	if ev := d.Process(sampleAt(clock, "d1", 5, 0, 0)); ev != nil {
		t.Fatalf("t=1000: expected suppression during cooldown, got %+v", ev)
	}

	clock.advance(2100 * time.Millisecond)
	ev = d.Process(sampleAt(clock, "d1", 3, 0, 0))
	if ev == nil || ev.Kind != models.KindAnomaly {
		t.Fatalf("t=3100: expected anomaly after cooldown, got %+v", ev)
	}
}

func TestDetector_SingleAnomalyPerBurst(t *testing.T) {
	d, clock := newTestDetector(Config{
		AnomalyThreshold: 2.5,
		CooldownDuration: 3 * time.Second,
	})

	anomalies := 0
	for i := 0; i < 20; i++ {
		if ev := d.Process(sampleAt(clock, "d1", 4, 0, 0)); ev != nil {
			anomalies++
		}
		clock.advance(100 * time.Millisecond) // burst well inside the cooldown
	}
	if anomalies != 1 {
		t.Errorf("got %d anomalies in a burst, want exactly 1", anomalies)
	}
}

func TestDetector_ThresholdIsStrict(t *testing.T) {
	d, clock := newTestDetector(Config{
		AnomalyThreshold: 2.5,
		CooldownDuration: time.Second,
	})

	// Magnitude exactly 2.5 is not anomalous.
	if ev := d.Process(sampleAt(clock, "d1", 2.5, 0, 0)); ev != nil {
		t.Errorf("magnitude == threshold must not emit, got %+v", ev)
	}
	if ev := d.Process(sampleAt(clock, "d1", 2.5000001, 0, 0)); ev == nil {
		t.Error("magnitude just above threshold must emit")
	}
}

func TestDetector_EmitNormalEvents(t *testing.T) {
	d, clock := newTestDetector(Config{
		AnomalyThreshold: 2.5,
		CooldownDuration: 3 * time.Second,
		EmitNormalEvents: true,
	})

	ev := d.Process(sampleAt(clock, "d1", 1, 0, 0))
	if ev == nil || ev.Kind != models.KindNormal {
		t.Fatalf("expected normal event, got %+v", ev)
	}

	// During cooldown the normal stream continues, anomalies stay suppressed.
	if ev := d.Process(sampleAt(clock, "d1", 3, 0, 0)); ev == nil || ev.Kind != models.KindAnomaly {
		t.Fatalf("expected anomaly, got %+v", ev)
	}
	clock.advance(time.Second)
	if ev := d.Process(sampleAt(clock, "d1", 4, 0, 0)); ev == nil || ev.Kind != models.KindNormal {
		t.Fatalf("expected normal event during cooldown, got %+v", ev)
	}
}

func TestDetector_DevicesIndependent(t *testing.T) {
	d, clock := newTestDetector(Config{
		AnomalyThreshold: 2.5,
		CooldownDuration: 3 * time.Second,
	})

	if ev := d.Process(sampleAt(clock, "d1", 3, 0, 0)); ev == nil {
		t.Fatal("d1: expected anomaly")
	}
	// d1 is cooling down; d2 is unaffected.
	if ev := d.Process(sampleAt(clock, "d2", 3, 0, 0)); ev == nil {
		t.Error("d2: cooldown of d1 must not suppress other devices")
	}
}

type memStateStore struct {
	cooldowns map[string]time.Time
	saves     int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{cooldowns: make(map[string]time.Time)}
}

func (m *memStateStore) SaveCooldown(deviceID string, until time.Time) error {
	m.cooldowns[deviceID] = until
	m.saves++
	return nil
}

func (m *memStateStore) LoadCooldowns() (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(m.cooldowns))
	for k, v := range m.cooldowns {
		out[k] = v
	}
	return out, nil
}

func TestDetector_PersistedCooldownSurvivesRestart(t *testing.T) {
	store := newMemStateStore()
	cfg := Config{AnomalyThreshold: 2.5, CooldownDuration: 3 * time.Second}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}

	d := New(store, cfg)
	d.SetClock(clock.now)
	if ev := d.Process(sampleAt(clock, "d1", 3, 0, 0)); ev == nil {
		t.Fatal("expected anomaly")
	}
	if store.saves != 1 {
		t.Errorf("expected 1 checkpoint, got %d", store.saves)
	}

	// "Restart": a fresh detector over the same store inherits the cooldown.
	clock.advance(time.Second)
	d2 := New(store, cfg)
	d2.SetClock(clock.now)
	if ev := d2.Process(sampleAt(clock, "d1", 5, 0, 0)); ev != nil {
		t.Errorf("restarted detector must honor persisted cooldown, got %+v", ev)
	}

	clock.advance(3 * time.Second)
	if ev := d2.Process(sampleAt(clock, "d1", 5, 0, 0)); ev == nil {
		t.Error("cooldown expired after restart, expected anomaly")
	}
}
