// Package alertsink forwards alert lifecycle events to external consumers
// without blocking the signaling path.
package alertsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
)

type EventKind string

const (
	EventCreated      EventKind = "alert_created"
	EventAcknowledged EventKind = "alert_acknowledged"
)

type Event struct {
	Kind  EventKind
	Alert ledger.Alert
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const (
	DefaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Dispatcher queues events for a single background publisher. When the queue
// is full new events are dropped and counted.
type Dispatcher struct {
	pub     Publisher
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue chan Event

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

func NewDispatcher(pub Publisher, queueSize int, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		pub:     pub,
		log:     log,
		metrics: m,
		timeout: defaultPublishTimeout,
		queue:   make(chan Event, queueSize),
		stopped: make(chan struct{}),
	}
}

// Notify enqueues an event. It never blocks and is a no-op on a nil
// dispatcher.
func (d *Dispatcher) Notify(kind EventKind, a ledger.Alert) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- Event{Kind: kind, Alert: a}:
	default:
		d.metrics.Inc(metrics.AlertSinkDropped)
		d.log.Warn("alert sink queue full; dropping event", "alert_id", a.ID, "event", string(kind))
	}
}

// Run publishes queued events until Close is called and the queue drains, or
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.publish(ctx, ev)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.pub.Publish(pctx, ev); err != nil {
		d.metrics.Inc(metrics.AlertSinkFailed)
		d.log.Error("alert sink publish failed", "alert_id", ev.Alert.ID, "event", string(ev.Kind), "err", err)
		return
	}
	d.metrics.Inc(metrics.AlertSinkPublished)
}

// Close stops accepting events and waits for Run to drain the queue or for ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
