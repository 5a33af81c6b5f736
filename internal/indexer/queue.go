package indexer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned for work submitted after Close.
var ErrQueueClosed = errors.New("writer queue closed")

// WriterQueue runs mutations one at a time per user. Each user with pending work has one
// worker goroutine; different users proceed in parallel. Workers exit when their queue drains.
type WriterQueue struct {
	mu      sync.Mutex
	pending map[string][]*job
	closed  bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// NewWriterQueue returns an empty queue. logger may be nil.
func NewWriterQueue(logger *zap.Logger) *WriterQueue {
	return &WriterQueue{
		pending: make(map[string][]*job),
		logger:  logger,
	}
}

func (q *WriterQueue) submit(ctx context.Context, userID string, fn func(ctx context.Context) error) (*job, error) {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	queue, running := q.pending[userID]
	q.pending[userID] = append(queue, j)
	if !running {
		q.wg.Add(1)
		go q.work(userID)
	}
	return j, nil
}

func (q *WriterQueue) work(userID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queue := q.pending[userID]
		if len(queue) == 0 {
			delete(q.pending, userID)
			q.mu.Unlock()
			return
		}
		j := queue[0]
		queue[0] = nil
		q.pending[userID] = queue[1:]
		q.mu.Unlock()

		j.done <- q.run(userID, j)
	}
}

func (q *WriterQueue) run(userID string, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if q.logger != nil {
				q.logger.Error("writer job panicked", zap.String("user_id", userID), zap.Any("panic", r))
			}
			err = errors.New("writer job panicked")
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Do runs fn on the user's worker and waits for it. If ctx ends while waiting, Do returns
// ctx.Err(); fn still runs (or is skipped if ctx ended before it started).
func (q *WriterQueue) Do(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	j, err := q.submit(ctx, userID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go enqueues fn without waiting. Errors are logged.
func (q *WriterQueue) Go(userID string, fn func(ctx context.Context) error) error {
	j, err := q.submit(context.Background(), userID, fn)
	if err != nil {
		return err
	}
	go func() {
		if err := <-j.done; err != nil && q.logger != nil {
			q.logger.Error("background write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
	return nil
}

// Close rejects new work and waits for queued work to finish.
func (q *WriterQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
