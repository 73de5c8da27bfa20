// Package dispatcher delivers motion events to the collector with
// at-least-once semantics and per-device ordering.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
)

// ErrDeliveryExhausted marks an event dropped after its retry budget ran out.
var ErrDeliveryExhausted = errors.New("delivery attempts exhausted")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The dispatcher drops the event
// immediately instead of burning attempts on a rejection that cannot heal.
func Permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Transport carries a single event to the collector. A nil error means the
// collector acknowledged the write; the returned ID is the stored record ID
// when the transport learns it.
type Transport interface {
	Deliver(ctx context.Context, event models.MotionEvent) (string, error)
}

// Config controls retry and queueing behavior.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	QueueSize   int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	return c
}

// Dispatcher fans events out to one bounded queue per device. Each queue is
// drained by a single goroutine, so retries for one device never reorder its
// events and never stall other devices.
type Dispatcher struct {
	config    Config
	transport Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]chan models.MotionEvent
	stopped bool

	exhausted atomic.Int64
}

// New creates a dispatcher over the given transport.
func New(transport Transport, config Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:    config.withDefaults(),
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]chan models.MotionEvent),
	}
}

// Submit hands an event to the dispatcher and returns immediately. The first
// event for a device starts that device's delivery worker. Returns false,
// dropping the event with a warning, when the device queue is full or the
// dispatcher has been shut down.
func (d *Dispatcher) Submit(event models.MotionEvent) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		logger.Warn("Rejecting event %s: dispatcher stopped", event.Key())
		return false
	}
	q, ok := d.queues[event.DeviceID]
	if !ok {
		q = make(chan models.MotionEvent, d.config.QueueSize)
		d.queues[event.DeviceID] = q
		d.wg.Add(1)
		go d.drain(q)
	}
	d.mu.Unlock()

	select {
	case q <- event:
		return true
	default:
		logger.Warn("Dropping event %s: queue for %s is full", event.Key(), event.DeviceID)
		return false
	}
}

// Exhausted returns the number of events dropped after exhausting retries.
func (d *Dispatcher) Exhausted() int64 {
	return d.exhausted.Load()
}

// Shutdown cancels pending retries, drops queued events with a warning, and
// waits for the per-device workers to exit. The dispatcher cannot be reused.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) drain(q chan models.MotionEvent) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			for {
				select {
				case event := <-q:
					logger.Warn("Dropping event %s: shutdown in progress", event.Key())
				default:
					return
				}
			}
		case event := <-q:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event models.MotionEvent) {
	delay := d.config.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		recordID, err := d.transport.Deliver(d.ctx, event)
		if err == nil {
			logger.Debug("Event %s acknowledged as record %q on attempt %d", event.Key(), recordID, attempt)
			return
		}
		if isPermanent(err) {
			logger.Error("Dropping event %s: collector rejected it: %v", event.Key(), err)
			return
		}
		lastErr = err
		if attempt < d.config.MaxAttempts {
			logger.Warn("Delivery attempt %d/%d for %s failed: %v. Retrying in %v",
				attempt, d.config.MaxAttempts, event.Key(), err, delay)
			if !d.sleep(delay) {
				logger.Warn("Dropping event %s: shutdown interrupted retry", event.Key())
				return
			}
			delay *= 2
			if delay > d.config.BackoffMax {
				delay = d.config.BackoffMax
			}
		}
	}
	d.exhausted.Add(1)
	logger.Error("Giving up on event %s after %d attempts: %v (last error: %v)",
		event.Key(), d.config.MaxAttempts, ErrDeliveryExhausted, lastErr)
}

func (d *Dispatcher) sleep(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-d.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
