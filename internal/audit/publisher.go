package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketplace-security/internal/metrics"
)

const (
	DefaultBufferSize     = 1024
	defaultPublishTimeout = 5 * time.Second
)

// Publisher queues events and delivers each one to every sink concurrently
// from a single worker. Emit never blocks: when the queue is full the event
// is dropped and counted.
type Publisher struct {
	sinks   []Sink
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

func NewPublisher(bufferSize int, logger *zap.Logger, sinks ...Sink) *Publisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		sinks:   sinks,
		logger:  logger,
		timeout: defaultPublishTimeout,
		events:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Emit(e Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metrics.AuditDropped.Inc()
		return
	}

	select {
	case p.events <- e:
	default:
		metrics.AuditDropped.Inc()
		p.logger.Warn("Audit buffer full, dropping event",
			zap.String("event_type", string(e.Type)),
			zap.String("event_id", e.ID))
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.events {
		p.deliver(e)
	}
}

func (p *Publisher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Plain Group: one failing sink must not cancel the others.
	var g errgroup.Group
	for _, sink := range p.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Publish(ctx, e); err != nil {
				metrics.AuditPublishErrors.WithLabelValues(sink.Name()).Inc()
				p.logger.Error("Failed to publish security event",
					zap.String("sink", sink.Name()),
					zap.String("event_id", e.ID),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
