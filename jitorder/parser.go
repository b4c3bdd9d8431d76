// Package jitorder extracts per-method JIT telemetry from the table a test
// prints when run with COMPlus_JitOrder=1.
package jitorder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

const (
	fieldSep = "|"

	// Rows from a tier 0 method have no assertion-prop/CSE columns.
	minOptsFields   = 17
	optimizedFields = 18

	minOptsTag = "MinOpts"
)

// Decoration lines of the table that carry no data.
var decorations = []string{"---------+", "|  Profiled  |"}

// Extractor consumes the output of one run line by line. It is not safe for
// concurrent use; every run gets its own.
type Extractor struct {
	sawHeader bool
	methods   []types.MethodEvent
	dropped   int
}

// NewExtractor returns an extractor for a single run.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Consume offers a line of output to the extractor. It returns true when the
// line belongs to the JIT order table and must be removed from the captured
// output. Malformed rows are consumed and dropped.
func (e *Extractor) Consume(line string) bool {
	for _, d := range decorations {
		if strings.Contains(line, d) {
			return true
		}
	}
	if !strings.Contains(line, fieldSep) {
		return false
	}

	fields := strings.Split(line, fieldSep)
	if len(fields) != minOptsFields && len(fields) != optimizedFields {
		e.dropped++
		return true
	}

	// The first well-formed row holds the column titles.
	if !e.sawHeader {
		e.sawHeader = true
		return true
	}

	m, err := parseRow(fields)
	if err != nil {
		e.dropped++
		return true
	}
	e.methods = append(e.methods, m)
	return true
}

// Methods returns the rows parsed so far.
func (e *Extractor) Methods() []types.MethodEvent {
	out := make([]types.MethodEvent, len(e.methods))
	copy(out, e.methods)
	return out
}

// Dropped returns the number of table rows that could not be parsed.
func (e *Extractor) Dropped() int {
	return e.dropped
}

// Parse runs an extractor over a complete output and returns the parsed
// methods along with the output stripped of the table.
func Parse(output string) ([]types.MethodEvent, string) {
	e := NewExtractor()
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if !e.Consume(strings.TrimSuffix(line, "\r")) {
			kept = append(kept, line)
		}
	}
	return e.Methods(), strings.Join(kept, "\n")
}

// intColumn binds a numeric table column to the field it fills.
type intColumn struct {
	dst *int64
	idx int
}

func parseRow(fields []string) (types.MethodEvent, error) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	name := fields[len(fields)-1]
	if name == "" {
		return types.MethodEvent{}, fmt.Errorf("row has no method name")
	}

	m := types.MethodEvent{
		MethodID:           fields[0],
		Annotation:         fields[1],
		Region:             fields[2],
		ProfileCallCount:   fields[3],
		HasEH:              fields[4] != "",
		FrameType:          fields[5],
		HasLoops:           fields[6] != "",
		MethodName:         name,
		AssertionPropCount: -1,
		CSECount:           -1,
	}

	columns := []intColumn{
		{&m.CallCount, 7},
		{&m.IndirectCallCount, 8},
		{&m.BasicBlockCount, 9},
		{&m.LocalVarCount, 10},
	}

	next := 11
	if fields[next] == minOptsTag {
		m.Tier = types.TierMinOpts
	} else {
		m.Tier = types.TierOptimized
		columns = append(columns, intColumn{&m.AssertionPropCount, next}, intColumn{&m.CSECount, next + 1})
		next++
	}
	next++

	// register allocator, il bytes, hot size, cold size, then the name
	if want := next + 5; want != len(fields) {
		return types.MethodEvent{}, fmt.Errorf("row has %d fields, expected %d", len(fields), want)
	}
	m.RegisterAllocator = fields[next]
	columns = append(columns,
		intColumn{&m.ILBytes, next + 1},
		intColumn{&m.HotCodeSize, next + 2},
		intColumn{&m.ColdCodeSize, next + 3},
	)

	for _, c := range columns {
		v, err := strconv.ParseInt(fields[c.idx], 10, 64)
		if err != nil {
			return types.MethodEvent{}, fmt.Errorf("column %d: %w", c.idx, err)
		}
		*c.dst = v
	}
	return m, nil
}
