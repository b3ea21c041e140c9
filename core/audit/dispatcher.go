package audit

import (
	"context"
	"database/sql/driver"
	"errors"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("audit: queue closed")
	// ErrQueueFull indicates the worker queue is saturated and the record was dropped.
	ErrQueueFull = errors.New("audit: queue full")

	secretRe = regexp.MustCompile(`(bot[0-9]+:[A-Za-z0-9_-]+|Bearer\s+[A-Za-z0-9._-]+|password=\S+)`)
)

// Options controls the behaviour of the transcript dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single record.
	MaxDuration time.Duration
}

type job struct {
	ctx  context.Context
	sink Sink
	rec  Record
}

// Dispatcher writes records to sinks asynchronously with retries. Records of
// the same user key always land on the same worker, so their order survives.
type Dispatcher struct {
	opts   Options
	mu     sync.RWMutex
	closed bool
	queues []chan job
	wg     sync.WaitGroup
	errs   atomic.Uint64
}

// NewDispatcher starts the workers, filling zeroed options with defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 10 * time.Second
	}

	per := max(opts.QueueSize/opts.Workers, 1)
	d := &Dispatcher{opts: opts, queues: make([]chan job, opts.Workers)}
	d.wg.Add(opts.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan job, per)
		go d.worker(d.queues[i])
	}
	return d
}

// Enqueue schedules rec for sink. It never blocks: a full queue drops the record.
func (d *Dispatcher) Enqueue(ctx context.Context, sink Sink, rec Record) error {
	if sink == nil {
		return errors.New("audit: nil sink")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	j := job{ctx: context.WithoutCancel(ctx), sink: sink, rec: rec}
	select {
	case d.queues[d.shard(rec.UserKey)] <- j:
		return nil
	default:
		d.errs.Add(1)
		return ErrQueueFull
	}
}

// ErrorCount returns the number of records that were dropped or failed.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting records and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shard(key string) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) worker(jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		lastErr = j.sink.Write(ctx, j.rec)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info(j.ctx, "audit", "audit.write.retry_success",
					append(jobAttrs(j), slog.Int("attempt", attempt))...)
			}
			return
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}
		delay := d.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			attempt = attempts
		case <-timer.C:
			logger.Debug(j.ctx, "audit", "audit.write.backoff",
				append(jobAttrs(j),
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
				)...)
		}
	}

	d.errs.Add(1)
	logger.Error(j.ctx, "audit", "audit.write.fail",
		append(jobAttrs(j),
			slog.String("status", "fail"),
			slog.String("err", sanitizeErrorMessage(lastErr)),
			slog.String("err_code", logger.ErrorCode(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", logger.Took(start)),
		)...)
}

func retryable(err error) bool {
	return netutil.ShouldRetry(err) || errors.Is(err, driver.ErrBadConn)
}

func jobAttrs(j job) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("sink", j.sink.Name()),
		slog.String("kind", j.rec.Kind),
	}
	if j.rec.UserKey != "" && logger.UserKeyFrom(j.ctx) == "" {
		attrs = append(attrs, slog.String("user_key", j.rec.UserKey))
	}
	return attrs
}

// sanitizeErrorMessage keeps bot tokens, bearer tokens and DSN passwords out of logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return logger.SanitizeLimit(secretRe.ReplaceAllString(err.Error(), "<redacted>"), 256)
}
