package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// JSONLSink appends rows as JSON objects to <dir>/<table>.jsonl.
type JSONLSink struct {
	dir string
	log log.Logger

	mu sync.Mutex
}

var _ Sink = (*JSONLSink)(nil)

func NewJSONLSink(dir string, logger log.Logger) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &JSONLSink{dir: dir, log: logger.New("sink", "jsonl")}, nil
}

// Path returns the file holding a table's rows.
func (j *JSONLSink) Path(table string) string {
	return filepath.Join(j.dir, table+".jsonl")
}

func (j *JSONLSink) Upload(ctx context.Context, table string, columns []string, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.Path(table), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", table, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range rows {
		doc, err := rowDocument(columns, row)
		if err != nil {
			return fmt.Errorf("failed to encode row for %s: %w", table, err)
		}
		if _, err := w.WriteString(doc + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", table, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", table, err)
	}
	j.log.Debug("Appended rows", "table", table, "rows", len(rows))
	return nil
}

func (j *JSONLSink) Close() error {
	return nil
}
