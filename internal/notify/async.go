package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

type job struct {
	ctx        context.Context
	event      string
	recipients []uuid.UUID
	payload    map[string]any
}

// Async queues notifications and delivers them from a fixed pool of
// workers, each delivery bounded by timeout. Notify never blocks.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.SchedulingMetrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewAsync(next Dispatcher, workers, queueSize int, timeout time.Duration, log zerolog.Logger, m *metrics.SchedulingMetrics) *Async {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		log:     log,
		metrics: m,
		queue:   make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *Async) Notify(ctx context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	j := job{
		ctx:        context.WithoutCancel(ctx),
		event:      eventType,
		recipients: append([]uuid.UUID(nil), recipients...),
		payload:    payload,
	}
	select {
	case a.queue <- j:
		a.metrics.ObserveNotification(eventType, "queued")
		return nil
	default:
		a.metrics.ObserveNotification(eventType, "dropped")
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for j := range a.queue {
		a.deliver(j)
	}
}

func (a *Async) deliver(j job) {
	ctx := j.ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if err := a.next.Notify(ctx, j.event, j.recipients, j.payload); err != nil {
		a.metrics.ObserveNotification(j.event, "failed")
		a.log.Warn().Err(err).Str("event", j.event).Int("recipients", len(j.recipients)).Msg("notification delivery failed")
		return
	}
	a.metrics.ObserveNotification(j.event, "delivered")
}

// Close stops accepting notifications and waits for queued ones to drain
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
