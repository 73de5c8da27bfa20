// Package aggregate derives window statistics over stored telemetry.
package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/motionlab-io/motiond/internal/models"
	"github.com/motionlab-io/motiond/internal/storage"
)

// ErrBadWindow rejects non-positive window sizes.
var ErrBadWindow = errors.New("window must be a positive duration")

// Engine computes read-time aggregates. Nothing is precomputed or cached;
// every call scans the store for the requested window.
type Engine struct {
	store *storage.Store
	now   func() time.Time
}

// New creates an engine over the store.
func New(store *storage.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// SetClock overrides the engine's time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Window returns statistics over records received in [now-window, now) for
// one device, or for all devices when deviceID is empty. An empty window
// yields a zero-count result with zero-valued aggregates, never an error.
func (e *Engine) Window(deviceID string, window time.Duration) (models.WindowStats, error) {
	if window <= 0 {
		return models.WindowStats{}, fmt.Errorf("%w: got %v", ErrBadWindow, window)
	}
	end := e.now()
	start := end.Add(-window)
	stats, err := e.store.Stats(deviceID, start, end)
	if err != nil {
		return models.WindowStats{}, fmt.Errorf("failed to aggregate window: %w", err)
	}
	return stats, nil
}
