package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []string{"id", "name"}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func newTestWriter(s Sink, opts ...Option) *BatchWriter {
	return NewBatchWriter(s, "things", testColumns, append([]Option{WithLogger(testLogger()), WithRetry(2, 0)}, opts...)...)
}

func TestBatchWriterFlushesInFixedBatches(t *testing.T) {
	s := NewMemorySink()
	w := newTestWriter(s)
	ctx := context.Background()

	for i := 0; i < 2500; i++ {
		require.NoError(t, w.Add(ctx, Row{int64(i), fmt.Sprintf("row-%d", i)}))
	}
	assert.Len(t, s.Batches(), 2, "two full batches before close")
	assert.Equal(t, 500, w.Pending())

	require.NoError(t, w.Close(ctx))

	batches := s.Batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Rows, 1000)
	assert.Len(t, batches[1].Rows, 1000)
	assert.Len(t, batches[2].Rows, 500)

	seen := make(map[int64]bool)
	for _, row := range s.Rows("things") {
		id := row[0].(int64)
		assert.False(t, seen[id], "row %d uploaded twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 2500)
	assert.Equal(t, 2500, w.Flushed())
	assert.Equal(t, 0, w.Pending())
}

func TestBatchWriterArityMismatchPanics(t *testing.T) {
	w := newTestWriter(NewMemorySink())
	assert.Panics(t, func() {
		_ = w.Add(context.Background(), Row{int64(1)})
	})
	assert.Equal(t, 0, w.Pending())
}

func TestBatchWriterRetriesFailedFlush(t *testing.T) {
	s := NewMemorySink()
	s.SetFailures(1, nil)
	w := newTestWriter(s, WithBatchSize(2))

	ctx := context.Background()
	require.NoError(t, w.Add(ctx, Row{int64(1), "a"}))
	require.NoError(t, w.Add(ctx, Row{int64(2), "b"}), "the second attempt succeeds")
	assert.Len(t, s.Rows("things"), 2)
}

func TestBatchWriterKeepsRowsOnFailure(t *testing.T) {
	s := NewMemorySink()
	boom := errors.New("connection refused")
	s.SetFailures(2, boom)
	w := newTestWriter(s, WithBatchSize(2))
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, Row{int64(1), "a"}))
	err := w.Add(ctx, Row{int64(2), "b"})
	require.Error(t, err)

	var flushErr *FlushError
	require.True(t, errors.As(err, &flushErr))
	assert.Equal(t, "things", flushErr.Table)
	assert.Equal(t, 2, flushErr.Rows)
	assert.Equal(t, 2, w.Pending(), "rejected rows stay buffered")
	assert.Empty(t, s.Batches())

	// the sink recovered; the retained rows go out with the next flush
	require.NoError(t, w.Close(ctx))
	assert.Len(t, s.Rows("things"), 2)
	assert.Equal(t, 0, w.Pending())
}

func TestBatchWriterCloseOnce(t *testing.T) {
	s := NewMemorySink()
	w := newTestWriter(s)
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, Row{int64(1), "a"}))
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))
	assert.Len(t, s.Batches(), 1)

	assert.ErrorIs(t, w.Add(ctx, Row{int64(2), "b"}), ErrClosed)
}

func TestBatchWriterCloseEmpty(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, newTestWriter(s).Close(context.Background()))
	assert.Empty(t, s.Batches())
}

func TestWithBatchWriterFlushesOnError(t *testing.T) {
	s := NewMemorySink()
	stop := errors.New("producer failed")

	err := WithBatchWriter(context.Background(), s, "things", testColumns, func(w *BatchWriter) error {
		_ = w.Add(context.Background(), Row{int64(1), "a"})
		return stop
	}, WithLogger(testLogger()))

	assert.ErrorIs(t, err, stop)
	assert.Len(t, s.Rows("things"), 1)
}

func TestWithBatchWriterFlushesOnPanic(t *testing.T) {
	s := NewMemorySink()

	assert.PanicsWithValue(t, "producer bug", func() {
		_ = WithBatchWriter(context.Background(), s, "things", testColumns, func(w *BatchWriter) error {
			_ = w.Add(context.Background(), Row{int64(1), "a"})
			_ = w.Add(context.Background(), Row{int64(2), "b"})
			panic("producer bug")
		}, WithLogger(testLogger()))
	})
	assert.Len(t, s.Rows("things"), 2)
}

func TestWithBatchWriterReportsFlushError(t *testing.T) {
	s := NewMemorySink()
	s.SetFailures(10, nil)

	err := WithBatchWriter(context.Background(), s, "things", testColumns, func(w *BatchWriter) error {
		return w.Add(context.Background(), Row{int64(1), "a"})
	}, WithLogger(testLogger()), WithRetry(2, 0))

	var flushErr *FlushError
	assert.True(t, errors.As(err, &flushErr))
}
