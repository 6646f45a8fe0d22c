package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/metrics"
)

const defaultDeliveryTimeout = 5 * time.Second

// Sink receives catalog events from the dispatcher workers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event domain.CatalogEvent) error
}

// Dispatcher decouples catalog mutations from event delivery: Publish enqueues, a fixed pool of
// workers drains the queue into every sink.
type Dispatcher struct {
	queue   chan domain.CatalogEvent
	sinks   []Sink
	workers int
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Registry

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type DispatcherOption func(*Dispatcher)

func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.timeout = d }
}

func WithMetrics(m *metrics.Registry) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

func NewDispatcher(queueSize, workers int, log logrus.FieldLogger, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queue:   make(chan domain.CatalogEvent, queueSize),
		sinks:   sinks,
		workers: workers,
		timeout: defaultDeliveryTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.WithField("workers", d.workers).Info("feed dispatcher started")
}

// Publish never blocks. When the queue is full, or the dispatcher is closed, the event is dropped.
func (d *Dispatcher) Publish(event domain.CatalogEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event)
		return
	}

	select {
	case d.queue <- event:
		if d.metrics != nil {
			d.metrics.FeedPublished.WithLabelValues(string(event.Kind)).Inc()
		}
	default:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event domain.CatalogEvent) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.FeedDropped.Inc()
	}
	d.log.WithField("kind", event.Kind).Warn("catalog event dropped")
}

// Dropped reports how many events were discarded so far.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for the workers to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("feed dispatcher stopped")
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := sink.Deliver(ctx, event); err != nil {
				if d.metrics != nil {
					d.metrics.FeedFailed.WithLabelValues(sink.Name()).Inc()
				}
				d.log.WithError(err).WithFields(logrus.Fields{
					"worker": id,
					"sink":   sink.Name(),
					"kind":   event.Kind,
				}).Error("failed to deliver catalog event")
			}
			cancel()
		}
	}
}
