package sampler

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/motionlab-io/motiond/internal/models"
)

const (
	batteryFull       = 100
	batteryFloor      = 5
	batteryDrainEvery = 600 // reads per percent, ~5 minutes at 500ms
)

// SimSource synthesizes accelerometer readings: gravity on the z axis with
// small jitter, and a configurable impact spike every spikeEvery reads. It
// also models a slowly draining battery. Stands in for device hardware
// during development and load testing.
type SimSource struct {
	mu             sync.Mutex
	rng            *rand.Rand
	spikeEvery     int
	spikeMagnitude float64
	reads          atomic.Int64
}

// NewSimSource creates a simulated source. spikeEvery <= 0 disables spikes.
func NewSimSource(seed int64, spikeEvery int, spikeMagnitude float64) *SimSource {
	return &SimSource{
		rng:            rand.New(rand.NewSource(seed)),
		spikeEvery:     spikeEvery,
		spikeMagnitude: spikeMagnitude,
	}
}

// Read implements Source. Never fails.
func (s *SimSource) Read() (models.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.reads.Add(1)
	if s.spikeEvery > 0 && n%int64(s.spikeEvery) == 0 {
		return models.Vec3{
			X: s.spikeMagnitude * (0.8 + 0.4*s.rng.Float64()),
			Y: s.jitter(),
			Z: 1 + s.jitter(),
		}, nil
	}
	return models.Vec3{
		X: s.jitter(),
		Y: s.jitter(),
		Z: 1 + s.jitter(), // resting gravity
	}, nil
}

// BatteryLevel reports the simulated charge: full at start, one percent
// drained per batteryDrainEvery reads, never below the floor. Safe to call
// concurrently with Read.
func (s *SimSource) BatteryLevel() int {
	level := batteryFull - int(s.reads.Load())/batteryDrainEvery
	if level < batteryFloor {
		return batteryFloor
	}
	return level
}

func (s *SimSource) jitter() float64 {
	return 0.05 * (s.rng.Float64()*2 - 1)
}
