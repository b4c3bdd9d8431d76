package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresTypes = map[ColumnKind]string{
	KindText: "TEXT",
	KindInt:  "BIGINT",
	KindBool: "BOOLEAN",
	KindTime: "TIMESTAMPTZ",
}

// PostgresSink copies rows into PostgreSQL tables.
type PostgresSink struct {
	pool *pgxpool.Pool
	log  log.Logger
}

var (
	_ Sink          = (*PostgresSink)(nil)
	_ SchemaCreator = (*PostgresSink)(nil)
)

func NewPostgresSink(ctx context.Context, uri string, logger log.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &PostgresSink{pool: pool, log: logger.New("sink", "postgres")}, nil
}

func (p *PostgresSink) EnsureTable(ctx context.Context, table Table) error {
	if _, err := p.pool.Exec(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}
	return nil
}

func (p *PostgresSink) Upload(ctx context.Context, table string, columns []string, rows []Row) error {
	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = r
	}

	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d rows into %s", n, len(rows), table)
	}
	p.log.Debug("Copied rows", "table", table, "rows", n)
	return nil
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}

func createTableSQL(table Table) string {
	defs := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		defs[i] = fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), postgresTypes[c.Kind])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		pgx.Identifier{table.Name}.Sanitize(), strings.Join(defs, ",\n\t"))
}
