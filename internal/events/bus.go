package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/telemetry"
)

// Handler receives events dispatched by a Bus.
type Handler func(ctx context.Context, evt Event)

// BatchHandler receives all events of one Publish call together, after the
// per-event handlers have seen them.
type BatchHandler func(ctx context.Context, evts []Event)

// Bus dispatches events synchronously to in-process subscribers and then
// forwards them to every registered sink.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	batches  []BatchHandler
	sinks    []Publisher
	log      *zap.Logger
	metrics  *telemetry.Metrics
}

// NewBus creates an empty Bus.
func NewBus(log *zap.Logger, metrics *telemetry.Metrics) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, metrics: metrics}
}

// Subscribe registers an in-process handler.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// SubscribeBatch registers an in-process handler that sees each published
// batch once.
func (b *Bus) SubscribeBatch(h BatchHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, h)
}

// AddSink registers an external publisher.
func (b *Bus) AddSink(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, p)
}

// Publish implements Publisher. Handler panics are recovered and logged;
// sink failures are joined into the returned error.
func (b *Bus) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	batches := append([]BatchHandler(nil), b.batches...)
	sinks := append([]Publisher(nil), b.sinks...)
	b.mu.RUnlock()

	for _, evt := range evts {
		for _, h := range handlers {
			b.dispatch(ctx, h, evt)
		}
		b.metrics.EventPublished(string(evt.Type))
	}
	for _, h := range batches {
		b.dispatch(ctx, func(ctx context.Context, _ Event) { h(ctx, evts) }, evts[0])
	}

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(ctx, evt)
}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, evts ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
