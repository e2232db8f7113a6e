package reconcile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// Queue coalesces change notifications per scope and drives reconciliation.
// Notifications for the same scope collapse into a single pending pass;
// distinct scopes run in parallel while passes within one scope are
// serialized. Failed passes requeue with exponential backoff.
type Queue struct {
	handler func(ctx context.Context, scope string) error

	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu      sync.Mutex
	ctx     context.Context
	pending map[string]bool
	running map[string]bool
	backoff map[string]time.Duration
	wg      sync.WaitGroup
}

// NewQueue constructs a work queue dispatching to handler.
func NewQueue(handler func(ctx context.Context, scope string) error) *Queue {
	if handler == nil {
		return nil
	}
	return &Queue{
		handler:     handler,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		pending:     make(map[string]bool),
		running:     make(map[string]bool),
		backoff:     make(map[string]time.Duration),
	}
}

// Start binds the queue to ctx. Notifications arriving before Start are
// dispatched once it runs.
func (q *Queue) Start(ctx context.Context) {
	if q == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	q.ctx = ctx
	scopes := make([]string, 0, len(q.pending))
	for scope := range q.pending {
		scopes = append(scopes, scope)
	}
	q.mu.Unlock()
	for _, scope := range scopes {
		q.Notify(scope)
	}
}

// Notify marks scope as dirty. If a pass for the scope is already running,
// the notification is absorbed into one follow-up pass.
func (q *Queue) Notify(scope string) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.pending[scope] = true
	if q.ctx == nil || q.running[scope] {
		q.mu.Unlock()
		return
	}
	q.running[scope] = true
	delete(q.pending, scope)
	ctx := q.ctx
	q.wg.Add(1)
	q.mu.Unlock()

	go q.work(ctx, scope)
}

func (q *Queue) work(ctx context.Context, scope string) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			q.finish(scope)
			return
		}
		err := q.handler(ctx, scope)
		if err != nil {
			delay := q.nextBackoff(scope)
			log.WithError(err).Warnf("reconcile: scope %s failed, retrying in %s", scope, delay)
			select {
			case <-ctx.Done():
				q.finish(scope)
				return
			case <-time.After(delay):
			}
			continue
		}
		q.resetBackoff(scope)

		q.mu.Lock()
		if q.pending[scope] && ctx.Err() == nil {
			delete(q.pending, scope)
			q.mu.Unlock()
			continue
		}
		delete(q.running, scope)
		q.mu.Unlock()
		return
	}
}

func (q *Queue) finish(scope string) {
	q.mu.Lock()
	delete(q.running, scope)
	q.mu.Unlock()
}

func (q *Queue) nextBackoff(scope string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	delay := q.backoff[scope]
	if delay <= 0 {
		delay = q.baseBackoff
	} else {
		delay *= 2
		if delay > q.maxBackoff {
			delay = q.maxBackoff
		}
	}
	q.backoff[scope] = delay
	return delay
}

func (q *Queue) resetBackoff(scope string) {
	q.mu.Lock()
	delete(q.backoff, scope)
	q.mu.Unlock()
}

// Wait blocks until all in-flight passes have drained. Intended for tests
// and shutdown.
func (q *Queue) Wait() {
	if q == nil {
		return
	}
	q.wg.Wait()
}
