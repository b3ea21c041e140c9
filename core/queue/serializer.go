// Package queue runs tasks one at a time per key while different keys run
// concurrently.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/m3rciful/agendabot/core/logger"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: serializer closed")

// Task is one unit of work for a key.
type Task func(ctx context.Context) error

// Result is the outcome of a finished task.
type Result struct {
	Key      string
	Err      error
	Duration time.Duration
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue: task panicked: %v", e.Value)
}

// Code implements the logger error-code convention.
func (e *PanicError) Code() string { return "TASK_PANIC" }

// Options configures a Serializer.
type Options struct {
	// OnResult observes every finished task, after it has been logged.
	OnResult func(Result)
}

type item struct {
	ctx  context.Context
	task Task
	done chan Result
}

// lane holds the tasks waiting behind the one currently running for a key.
type lane struct {
	pending []item
}

// Serializer keeps at most one running task per key. A key's lane exists only
// while it has a running or pending task.
type Serializer struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	closed   bool
	wg       sync.WaitGroup
	onResult func(Result)
}

// New constructs an empty Serializer.
func New(opts Options) *Serializer {
	return &Serializer{
		lanes:    make(map[string]*lane),
		onResult: opts.OnResult,
	}
}

// Enqueue schedules task for key. It starts immediately when key is idle and
// otherwise after every earlier task for key has finished. The returned
// channel receives exactly one Result.
func (s *Serializer) Enqueue(ctx context.Context, key string, task Task) (<-chan Result, error) {
	if task == nil {
		return nil, errors.New("queue: nil task")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	it := item{ctx: ctx, task: task, done: make(chan Result, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if l, busy := s.lanes[key]; busy {
		l.pending = append(l.pending, it)
		s.mu.Unlock()
		return it.done, nil
	}
	s.lanes[key] = &lane{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(key, it)
	return it.done, nil
}

func (s *Serializer) drain(key string, it item) {
	defer s.wg.Done()
	for {
		res := s.run(key, it)
		it.done <- res
		if s.onResult != nil {
			s.onResult(res)
		}

		s.mu.Lock()
		l := s.lanes[key]
		if len(l.pending) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		it = l.pending[0]
		l.pending[0] = item{}
		l.pending = l.pending[1:]
		s.mu.Unlock()
	}
}

func (s *Serializer) run(key string, it item) (res Result) {
	start := time.Now()
	res.Key = key
	defer func() {
		if r := recover(); r != nil {
			res.Err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		res.Duration = time.Since(start)
		logResult(it.ctx, res)
	}()
	res.Err = it.task(it.ctx)
	return res
}

func logResult(ctx context.Context, res Result) {
	if res.Err == nil {
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "queue", "queue.task.done",
				slog.String("status", "ok"),
				slog.Duration("duration", res.Duration),
			)
		}
		return
	}
	attrs := []slog.Attr{
		slog.String("status", "fail"),
		slog.Duration("duration", res.Duration),
		slog.String("err", logger.SanitizeLimit(res.Err.Error(), 256)),
		slog.String("err_code", logger.ErrorCode(res.Err)),
	}
	var pe *PanicError
	if errors.As(res.Err, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	logger.Error(ctx, "queue", "queue.task.fail", attrs...)
}

// Pending reports how many tasks wait behind the running one for key.
func (s *Serializer) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[key]; ok {
		return len(l.pending)
	}
	return 0
}

// Lanes reports how many keys currently have a running task.
func (s *Serializer) Lanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects new tasks and waits until queued ones finish or ctx ends.
func (s *Serializer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: close: %w", ctx.Err())
	}
}
