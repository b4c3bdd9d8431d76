package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "jit_stress"

// RedisSink appends every row as a JSON document to the list
// <prefix>:<table>.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	log    log.Logger
}

var _ Sink = (*RedisSink)(nil)

func NewRedisSink(ctx context.Context, url string, prefix string, logger log.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	return NewRedisSinkFromClient(client, prefix, logger), nil
}

func NewRedisSinkFromClient(client redis.UniversalClient, prefix string, logger log.Logger) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisSink{client: client, prefix: prefix, log: logger.New("sink", "redis")}
}

// Key returns the list holding a table's rows.
func (r *RedisSink) Key(table string) string {
	return fmt.Sprintf("%s:%s", r.prefix, table)
}

func (r *RedisSink) Upload(ctx context.Context, table string, columns []string, rows []Row) error {
	docs := make([]any, len(rows))
	for i, row := range rows {
		doc, err := rowDocument(columns, row)
		if err != nil {
			return fmt.Errorf("failed to encode row for %s: %w", table, err)
		}
		docs[i] = doc
	}

	key := r.Key(table)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, docs...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push rows to %s: %w", key, err)
	}
	r.log.Debug("Pushed rows", "key", key, "rows", len(rows))
	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}

// rowDocument encodes a row as a JSON object keyed by column.
func rowDocument(columns []string, row Row) (string, error) {
	obj := make(map[string]any, len(columns))
	for i, c := range columns {
		obj[c] = row[i]
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
