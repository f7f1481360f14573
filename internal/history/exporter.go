package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Exporter forwards events to external sinks from a background goroutine so
// that a slow or unreachable sink never blocks the scheduler. Events are
// dropped when the buffer is full.
type Exporter struct {
	sinks   []Sink
	ch      chan Event
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewExporter starts an exporter over sinks. Close must be called to flush.
func NewExporter(log *slog.Logger, buffer int, sinks ...Sink) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	e := &Exporter{
		sinks:   append([]Sink(nil), sinks...),
		ch:      make(chan Event, buffer),
		log:     log,
		timeout: 5 * time.Second,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Publish enqueues ev without blocking.
func (e *Exporter) Publish(ev Event) {
	if e == nil || len(e.sinks) == 0 {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.log.Warn("history export buffer full, dropping event", "type", ev.Type)
	}
}

// Close stops accepting events, waits until queued ones are delivered and
// closes the sinks that hold connections.
func (e *Exporter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	first := !e.closed
	if first {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()
	e.wg.Wait()
	if !first {
		return
	}
	for _, s := range e.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				e.log.Warn("history sink close failed", "error", err)
			}
		}
	}
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for ev := range e.ch {
		for _, s := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			if err := s.Send(ctx, ev); err != nil {
				e.log.Warn("history sink send failed", "type", ev.Type, "error", err)
			}
			cancel()
		}
	}
}
