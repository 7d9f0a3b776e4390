package conversation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/types"
)

// TurnHandler executes a single scheduled agent turn. Errors are logged by
// the drain loop and never abort draining; a handler that wants to halt the
// conversation must do so through its own state, not by returning an error.
type TurnHandler func(ctx context.Context, req types.TurnRequest) error

// TurnQueue serializes agent turns. Enqueue is safe from any goroutine; at
// most one drain loop runs at a time, and each turn is fully processed
// before the next one is popped.
type TurnQueue struct {
	mu       sync.Mutex
	pending  []types.TurnRequest
	draining bool
	closed   bool

	handler  TurnHandler
	observer func(pending int)

	ctx    context.Context
	logger *zap.Logger
}

// NewTurnQueue builds an idle queue. ctx is passed to every handler
// invocation; canceling it stops in-flight work but queued requests are
// still popped (and should fail fast inside the handler).
func NewTurnQueue(ctx context.Context, logger *zap.Logger) *TurnQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnQueue{
		ctx:    ctx,
		logger: logger.With(zap.String("component", "turn_queue")),
	}
}

// SetHandler installs the turn handler. Must be called before the first
// Enqueue.
func (q *TurnQueue) SetHandler(h TurnHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// SetLengthObserver registers a callback invoked with the pending count
// after every change. Called with the queue lock held, so the observer must
// not call back into the queue.
func (q *TurnQueue) SetLengthObserver(fn func(pending int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = fn
}

// Enqueue appends a turn request and starts the drain loop if it is idle.
func (q *TurnQueue) Enqueue(req types.TurnRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, req)
	q.notifyLocked()
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

// Clear drops every pending request. A turn already handed to the handler
// is not interrupted.
func (q *TurnQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.notifyLocked()
}

// Len reports the number of pending requests, excluding any turn currently
// being handled.
func (q *TurnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close clears the queue and rejects further enqueues.
func (q *TurnQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	q.notifyLocked()
}

func (q *TurnQueue) notifyLocked() {
	if q.observer != nil {
		q.observer(len(q.pending))
	}
}

func (q *TurnQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		q.notifyLocked()
		handler := q.handler
		q.mu.Unlock()

		if handler == nil {
			q.logger.Warn("turn dropped, no handler installed",
				zap.String("agent_id", req.AgentID))
			continue
		}
		q.runOne(handler, req)
	}
}

func (q *TurnQueue) runOne(handler TurnHandler, req types.TurnRequest) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("turn handler panicked",
				zap.String("agent_id", req.AgentID),
				zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	if err := handler(q.ctx, req); err != nil {
		q.logger.Error("turn handler failed",
			zap.String("agent_id", req.AgentID),
			zap.String("session_id", req.SessionID),
			zap.Error(err))
	}
}
