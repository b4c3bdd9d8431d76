package sink

import "context"

// ColumnKind is the storage type of a column. Values are int64, string,
// bool or time.Time accordingly.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindBool
	KindTime
)

type Column struct {
	Name string
	Kind ColumnKind
}

// Table describes a destination table.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SchemaCreator is implemented by sinks that can create their tables.
type SchemaCreator interface {
	EnsureTable(ctx context.Context, table Table) error
}

var (
	TestRunsTable = Table{
		Name: "test_runs",
		Columns: []Column{
			{"run_id", KindText},
			{"host", KindText},
			{"os", KindText},
			{"arch", KindText},
			{"cpus", KindInt},
			{"git_commit", KindText},
			{"git_commit_date", KindText},
			{"started_at", KindTime},
			{"duration_ms", KindInt},
			{"tests", KindInt},
			{"passed", KindInt},
			{"failed", KindInt},
			{"flaky", KindInt},
			{"skipped", KindInt},
		},
	}

	RunsTable = Table{
		Name: "runs",
		Columns: []Column{
			{"run_id", KindText},
			{"record_id", KindText},
			{"test", KindText},
			{"command", KindText},
			{"config", KindText},
			{"attempt", KindInt},
			{"started_at", KindTime},
			{"duration_ms", KindInt},
			{"exit_status", KindInt},
			{"passed", KindBool},
			{"timed_out", KindBool},
			{"status", KindText},
			{"output", KindText},
			{"launch_error", KindText},
		},
	}

	RunEnvTable = Table{
		Name: "run_env",
		Columns: []Column{
			{"run_id", KindText},
			{"record_id", KindText},
			{"name", KindText},
			{"value", KindText},
		},
	}

	MethodsTable = Table{
		Name: "methods",
		Columns: []Column{
			{"run_id", KindText},
			{"record_id", KindText},
			{"method_id", KindText},
			{"annotation", KindText},
			{"region", KindText},
			{"profile_call_count", KindText},
			{"has_eh", KindBool},
			{"frame_type", KindText},
			{"has_loops", KindBool},
			{"call_count", KindInt},
			{"indirect_call_count", KindInt},
			{"basic_block_count", KindInt},
			{"local_var_count", KindInt},
			{"assertion_prop_count", KindInt},
			{"cse_count", KindInt},
			{"register_allocator", KindText},
			{"il_bytes", KindInt},
			{"hot_code_size", KindInt},
			{"cold_code_size", KindInt},
			{"tier", KindInt},
			{"method_name", KindText},
		},
	}

	// Tables lists every table the uploader writes, in upload order.
	Tables = []Table{TestRunsTable, RunsTable, RunEnvTable, MethodsTable}
)
