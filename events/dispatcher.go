package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Options tune the dispatcher pool.
type Options struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.HandoffTimeout < 0 {
		o.HandoffTimeout = 0
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 30 * time.Second
	}
	return o
}

// Dispatcher hands events to a bounded pool of workers that deliver them to a
// Sink. When the buffer stays full past the handoff timeout the event is
// delivered inline. Delivery failures are logged and dropped.
type Dispatcher struct {
	sink   Sink
	logger *log.Logger
	opts   Options

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, logger *log.Logger, opts Options) *Dispatcher {
	if sink == nil {
		panic("events.NewDispatcher: sink is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		opts:   opts,
		jobs:   make(chan domain.Event, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v, timeout: %v",
		opts.Workers, opts.Buffer, opts.HandoffTimeout, opts.PublishTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.deliver(ev, id)
	}
}

func (d *Dispatcher) deliver(ev domain.Event, worker int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
	err := d.sink.Send(ctx, ev)
	cancel()
	if err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"event_id": ev.ID,
			"type":     ev.Type,
			"user_id":  ev.UserID,
			"worker":   worker,
		}).Error("publish event failed")
	}
}

// Publish queues ev for delivery. After Close it is a no-op.
func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	if d.handoff(ev) {
		return
	}
	d.deliver(ev, -1)
}

func (d *Dispatcher) handoff(ev domain.Event) bool {
	select {
	case d.jobs <- ev:
		return true
	default:
	}
	if d.opts.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
