package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter moves formatting off the caller's goroutine. A single loop
// drains every queued line into buffered outputs and flushes once per batch.
// Writers block when the queue is full; lines are never dropped.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}
	stop    sync.Once

	outs []*bufio.Writer

	mu  sync.Mutex
	err error

	// gate keeps Write from sending on lines after Close.
	gate   sync.RWMutex
	closed bool
}

func newAsyncWriter(writers []io.Writer, bufSize, queueSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &asyncWriter{
		lines:   make(chan []byte, queueSize),
		flushes: make(chan chan error),
		stopped: make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.outs = append(w.outs, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.flush())
				return
			}
			w.fail(w.drain(line))
		case ack := <-w.flushes:
			ack <- w.drain(nil)
		}
	}
}

// drain writes first plus whatever else is already queued, then flushes.
func (w *asyncWriter) drain(first []byte) error {
	var errs []error
	write := func(line []byte) {
		for _, out := range w.outs {
			if _, err := out.Write(line); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if first != nil {
		write(first)
	}
	for pending := len(w.lines); pending > 0; pending-- {
		line, ok := <-w.lines
		if !ok {
			break
		}
		write(line)
	}
	errs = append(errs, w.flush())
	return errors.Join(errs...)
}

func (w *asyncWriter) flush() error {
	var errs []error
	for _, out := range w.outs {
		if err := out.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Write queues a copy of p. It reports the first output error seen so far.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush blocks until everything queued before it reached the outputs.
func (w *asyncWriter) Flush() error {
	if err := w.firstErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.stopped:
		return w.firstErr()
	}
}

// Close drains the queue and stops the loop.
func (w *asyncWriter) Close() error {
	w.stop.Do(func() {
		w.gate.Lock()
		w.closed = true
		close(w.lines)
		w.gate.Unlock()
	})
	<-w.stopped
	return w.firstErr()
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *asyncWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
