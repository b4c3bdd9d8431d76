package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/jit-stress/metrics"
)

const (
	DefaultBatchSize     = 1000
	DefaultFlushAttempts = 3
	DefaultRetryDelay    = time.Second
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batch writer is closed")

// Row is one row of a table with values in column order.
type Row []any

// Sink is a destination for rows of named tables.
type Sink interface {
	Upload(ctx context.Context, table string, columns []string, rows []Row) error
	Close() error
}

// FlushError reports a batch the sink rejected. The rows are still buffered
// in the writer.
type FlushError struct {
	Table string
	Rows  int
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("failed to flush %d rows to %s: %v", e.Rows, e.Table, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

type Option func(*BatchWriter)

// WithBatchSize sets the number of buffered rows that triggers a flush.
func WithBatchSize(n int) Option {
	return func(w *BatchWriter) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetry sets how many times a batch is offered to the sink and the
// delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(w *BatchWriter) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if delay >= 0 {
			w.delay = delay
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(w *BatchWriter) {
		if l != nil {
			w.log = l
		}
	}
}

// BatchWriter accumulates rows of one table and uploads them in fixed size
// batches. It is safe for concurrent use.
type BatchWriter struct {
	sink      Sink
	table     string
	columns   []string
	batchSize int
	attempts  int
	delay     time.Duration
	log       log.Logger

	mu      sync.Mutex
	pending []Row
	flushed int
	closed  bool
}

func NewBatchWriter(sink Sink, table string, columns []string, opts ...Option) *BatchWriter {
	w := &BatchWriter{
		sink:      sink,
		table:     table,
		columns:   columns,
		batchSize: DefaultBatchSize,
		attempts:  DefaultFlushAttempts,
		delay:     DefaultRetryDelay,
		log:       log.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.New("component", "batch-writer", "table", table)
	return w
}

// Add buffers a row and flushes when the batch is full. A row whose length
// does not match the columns is a programming error and panics.
func (w *BatchWriter) Add(ctx context.Context, row Row) error {
	if len(row) != len(w.columns) {
		panic(fmt.Sprintf("sink: row for %s has %d values, table has %d columns", w.table, len(row), len(w.columns)))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush uploads every buffered row.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Close flushes the remaining rows. Only the first call flushes; later calls
// return nil.
func (w *BatchWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked(ctx)
}

// Pending returns the number of rows not yet accepted by the sink.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flushed returns the number of rows accepted by the sink.
func (w *BatchWriter) Flushed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

func (w *BatchWriter) flushLocked(ctx context.Context) error {
	for len(w.pending) > 0 {
		n := min(len(w.pending), w.batchSize)
		batch := w.pending[:n]

		err := retry.Do0(ctx, w.attempts, retry.Fixed(w.delay), func() error {
			return w.sink.Upload(ctx, w.table, w.columns, batch)
		})
		metrics.RecordFlush(w.table, n, err)
		if err != nil {
			w.log.Error("Failed to flush batch", "rows", n, "pending", len(w.pending), "err", err)
			return &FlushError{Table: w.table, Rows: n, Err: err}
		}

		w.log.Debug("Flushed batch", "rows", n)
		w.flushed += n
		w.pending = append(w.pending[:0:0], w.pending[n:]...)
	}
	return nil
}

// WithBatchWriter runs fn with a new writer and closes it on every exit path,
// including a panic in fn, which is re-raised after the flush.
func WithBatchWriter(ctx context.Context, sink Sink, table string, columns []string, fn func(*BatchWriter) error, opts ...Option) (err error) {
	w := NewBatchWriter(sink, table, columns, opts...)
	defer func() {
		r := recover()
		closeErr := w.Close(ctx)
		if r != nil {
			if closeErr != nil {
				w.log.Error("Failed to flush after panic", "err", closeErr)
			}
			panic(r)
		}
		err = errors.Join(err, closeErr)
	}()
	return fn(w)
}
