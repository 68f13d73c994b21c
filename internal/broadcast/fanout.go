// Package broadcast delivers tick batches to external transports.
//
// Fanout is the engine's Broadcaster: it encodes each batch once and hands it
// to every sink through a small bounded queue served by the sink's own
// goroutine. A sink that cannot keep up loses batches; the tick loop never
// waits on a transport.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

// ErrQueueFull is reported when a sink's queue has no room for a batch.
var ErrQueueFull = errors.New("broadcast: queue full")

// Message is one encoded batch.
type Message struct {
	Topic   string
	At      time.Time
	Batch   patrol.Batch
	Payload []byte // JSON array of {id, lat, lng, bearing}
}

// Sink is a transport that receives every message. Send is called from a
// single goroutine per sink.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

type worker struct {
	sink    Sink
	queue   chan Message
	done    chan struct{}
	timeout time.Duration
	metrics *metrics.Metrics

	mu       sync.Mutex
	dropping bool
}

// Fanout publishes each batch to all registered sinks without blocking.
type Fanout struct {
	queueSize int
	timeout   time.Duration
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	workers []*worker
	closed  bool
}

// NewFanout creates a fanout. queueSize is the per-sink queue length and
// timeout bounds each Send.
func NewFanout(queueSize int, timeout time.Duration, m *metrics.Metrics) *Fanout {
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Fanout{queueSize: queueSize, timeout: timeout, metrics: m}
}

// Add registers a sink and starts its worker.
func (f *Fanout) Add(s Sink) {
	w := &worker{
		sink:    s,
		queue:   make(chan Message, f.queueSize),
		done:    make(chan struct{}),
		timeout: f.timeout,
		metrics: f.metrics,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		log.Printf("broadcast: fanout closed, sink %s not added", s.Name())
		return
	}
	f.workers = append(f.workers, w)
	go w.run()
	log.Printf("broadcast: sink %s attached", s.Name())
}

// Sinks returns the names of the registered sinks.
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.workers))
	for _, w := range f.workers {
		names = append(names, w.sink.Name())
	}
	return names
}

// Publish implements patrol.Broadcaster.
func (f *Fanout) Publish(topic string, batch patrol.Batch) {
	if batch == nil {
		batch = patrol.Batch{}
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		log.WithError(err).Error("broadcast: failed to encode batch")
		return
	}
	msg := Message{Topic: topic, At: time.Now(), Batch: batch, Payload: payload}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, w := range f.workers {
		w.offer(msg)
	}
}

// Close stops all workers after their queues drain and closes the sinks.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	workers := f.workers
	f.mu.Unlock()

	var errs []error
	for _, w := range workers {
		close(w.queue)
		<-w.done
		if err := w.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *worker) offer(msg Message) {
	select {
	case w.queue <- msg:
		w.setDropping(false)
	default:
		w.metrics.IncDropped(w.sink.Name())
		if w.setDropping(true) {
			log.WithFields(log.Fields{"sink": w.sink.Name()}).WithError(ErrQueueFull).
				Warn("broadcast: sink falling behind, dropping batches")
		}
	}
}

// setDropping records the queue state and reports whether it changed.
func (w *worker) setDropping(v bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := w.dropping != v
	w.dropping = v
	if changed && !v {
		log.WithFields(log.Fields{"sink": w.sink.Name()}).Info("broadcast: sink caught up")
	}
	return changed
}

func (w *worker) run() {
	defer close(w.done)
	failing := false

	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.sink.Send(ctx, msg)
		cancel()

		if err != nil {
			w.metrics.IncError(w.sink.Name())
			if !failing {
				log.WithFields(log.Fields{"sink": w.sink.Name(), "topic": msg.Topic}).WithError(err).
					Warn("broadcast: publish failed")
			}
			failing = true
			continue
		}
		if failing {
			log.WithFields(log.Fields{"sink": w.sink.Name()}).Info("broadcast: publish recovered")
			failing = false
		}
		w.metrics.IncSent(w.sink.Name())
	}
}
