package attendance

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"attendance-ingest/internal/metrics"
)

var ErrPipelineClosed = errors.New("pipeline closed")

// Pipeline queues events from every adapter into one writer goroutine.
// Events from one producer are written in submission order.
type Pipeline struct {
	writer Writer
	events chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	logger *slog.Logger
}

func NewPipeline(writer Writer, buffer int) *Pipeline {
	if buffer <= 0 {
		buffer = 1
	}
	return &Pipeline{
		writer: writer,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: slog.With("component", "pipeline"),
	}
}

// Submit queues ev, blocking while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}

	select {
	case p.events <- ev:
		metrics.IncEventReceived(ev.Vendor)
		metrics.SetPipelineDepth(len(p.events))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued events until Close has been called and the queue is
// drained, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			metrics.SetPipelineDepth(len(p.events))
			if _, err := p.writer.Record(ctx, ev); err != nil {
				p.logger.Error("Failed to record event", "event", ev.String(), "error", err)
			}
		case <-ctx.Done():
			p.logger.Warn("Pipeline cancelled", "pending", len(p.events))
			return
		}
	}
}

// Close stops accepting events. Run returns once the queue is empty.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

// Done is closed when Run returns.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}
