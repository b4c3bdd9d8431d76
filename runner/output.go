package runner

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

const (
	// DefaultOutputLimit bounds the output attached to each RunRecord.
	DefaultOutputLimit = 2048

	// maxPendingLine forces a partial line through the pipeline once it grows
	// past this size, so a test that never prints a newline stays bounded.
	maxPendingLine = 64 * 1024
)

// LineExtractor pulls structured method events out of a run's stdout.
// Consume returns true for lines that must not appear in the captured output.
type LineExtractor interface {
	Consume(line string) bool
	Methods() []types.MethodEvent
}

// cappedBuffer keeps the first maxBytes written to it and remembers how much
// was discarded.
type cappedBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newCappedBuffer(maxBytes int) *cappedBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultOutputLimit
	}
	return &cappedBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, maxBytes),
	}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	if room := b.maxBytes - len(b.contents); room > 0 {
		if len(p) > room {
			b.contents = append(b.contents, p[:room]...)
		} else {
			b.contents = append(b.contents, p...)
		}
	}
	return len(p), nil
}

// String decodes the retained bytes permissively. Invalid sequences are
// replaced and the result never exceeds maxBytes.
func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return truncateUTF8(strings.ToValidUTF8(string(b.contents), "�"), b.maxBytes)
}

func (b *cappedBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// outputCapture is the stdout sink of a single run. It splits the stream into
// lines, strips terminal escapes, records which markers appeared, offers each
// line to the extractor and keeps what remains in a capped buffer.
type outputCapture struct {
	mu        sync.Mutex
	pending   []byte
	watch     []string
	seen      []string
	extractor LineExtractor
	kept      *cappedBuffer
	closed    bool
}

func newOutputCapture(limit int, markers []string, extractor LineExtractor) *outputCapture {
	return &outputCapture{
		watch:     markers,
		extractor: extractor,
		kept:      newCappedBuffer(limit),
	}
}

func (c *outputCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, p...)
	for {
		idx := bytes.IndexByte(c.pending, '\n')
		if idx < 0 {
			break
		}
		c.processLine(string(c.pending[:idx]), true)
		c.pending = c.pending[idx+1:]
	}
	if len(c.pending) > maxPendingLine {
		c.processLine(string(c.pending), false)
		c.pending = c.pending[:0]
	}
	return len(p), nil
}

// Close flushes a trailing line that had no newline.
func (c *outputCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if len(c.pending) > 0 {
		c.processLine(string(c.pending), false)
		c.pending = nil
	}
	return nil
}

func (c *outputCapture) processLine(raw string, newline bool) {
	line := stripansi.Strip(strings.ToValidUTF8(strings.TrimSuffix(raw, "\r"), "�"))

	for _, m := range c.watch {
		if strings.Contains(line, m) && !c.sawMarker(m) {
			c.seen = append(c.seen, m)
		}
	}

	if c.extractor != nil && c.extractor.Consume(line) {
		return
	}

	if newline {
		line += "\n"
	}
	_, _ = c.kept.Write([]byte(line))
}

func (c *outputCapture) sawMarker(m string) bool {
	for _, s := range c.seen {
		if s == m {
			return true
		}
	}
	return false
}

// Markers returns the watched markers in order of first appearance.
func (c *outputCapture) Markers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		return nil
	}
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}

func (c *outputCapture) String() string {
	return c.kept.String()
}

func (c *outputCapture) Truncated() bool {
	return c.kept.Truncated()
}
