package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds each sink call. Zero means no deadline.
	SinkTimeout time.Duration
	// OnDrop is called for every event discarded because the buffer was full.
	OnDrop func(Event)
}

// Dispatcher relays events to a sink from one background goroutine. Emit
// and Close coordinate through mu so the queue is closed exactly once and
// never written after that.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	stop  chan struct{}
	idle  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher starts the relay goroutine. It returns nil when auditing is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, max(cfg.BufferSize, 1)),
		stop:  make(chan struct{}),
		idle:  make(chan struct{}),
	}
	go d.relay()
	return d
}

// relay runs until Close closes the queue and every buffered event is out.
func (d *Dispatcher) relay() {
	defer close(d.idle)
	for ev := range d.queue {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if d.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		}
		d.sink.Emit(ctx, ev)
		cancel()
		d.emitted.Add(1)
	}
}

// Emit queues ev. With DropIfFull a full buffer discards it and counts the
// drop; otherwise Emit waits for room, for ctx to end or for Close. Events
// emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop(ev)
			}
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case d.queue <- ev:
	case <-done:
	case <-d.stop:
	}
}

// Close stops intake and blocks until the buffered events reach the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.stop)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.idle
}

// Dropped returns the number of events discarded by a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Emitted returns the number of events handed to the sink.
func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}
