package sink

import (
	"context"
	"errors"
	"sync"
)

var errMemoryUpload = errors.New("memory sink: upload rejected")

// Batch is one upload received by a MemorySink.
type Batch struct {
	Table   string
	Columns []string
	Rows    []Row
}

// MemorySink keeps every upload in memory.
type MemorySink struct {
	mu       sync.Mutex
	batches  []Batch
	failures int
	failErr  error
	closed   bool
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Upload(ctx context.Context, table string, columns []string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return m.failErr
	}
	copied := make([]Row, len(rows))
	copy(copied, rows)
	m.batches = append(m.batches, Batch{Table: table, Columns: columns, Rows: copied})
	return nil
}

// SetFailures makes the next n uploads fail with err, or a generic error
// when err is nil.
func (m *MemorySink) SetFailures(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errMemoryUpload
	}
	m.failures = n
	m.failErr = err
}

// Batches returns the accepted uploads in order.
func (m *MemorySink) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Rows returns every accepted row of a table.
func (m *MemorySink) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, b := range m.batches {
		if b.Table == table {
			out = append(out, b.Rows...)
		}
	}
	return out
}

func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
