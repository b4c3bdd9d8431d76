// Package sink uploads run records to external stores in fixed-size batches.
// PostgreSQL, ClickHouse, Redis and JSON-lines files are supported; see Open.
package sink
