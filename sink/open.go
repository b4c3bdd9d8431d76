package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Open returns the sink for a destination URL:
//
//	postgres://, postgresql://  PostgreSQL
//	clickhouse://               ClickHouse
//	redis://, rediss://         Redis lists
//	file://<dir> or a bare path JSON-lines files
func Open(ctx context.Context, dest string, logger log.Logger) (Sink, error) {
	if logger == nil {
		logger = log.New()
	}
	if dest == "" {
		return nil, fmt.Errorf("sink destination cannot be empty")
	}

	scheme, rest, found := strings.Cut(dest, "://")
	if !found {
		return opened(NewJSONLSink(dest, logger))
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return opened(NewPostgresSink(ctx, dest, logger))
	case "clickhouse":
		return opened(NewClickHouseSink(ctx, dest, logger))
	case "redis", "rediss":
		target, prefix, err := splitRedisPrefix(dest)
		if err != nil {
			return nil, err
		}
		return opened(NewRedisSink(ctx, target, prefix, logger))
	case "file":
		return opened(NewJSONLSink(rest, logger))
	default:
		return nil, fmt.Errorf("unsupported sink scheme %q", scheme)
	}
}

// splitRedisPrefix removes the prefix query parameter, which the redis
// client would reject, and returns it separately.
func splitRedisPrefix(dest string) (string, string, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", fmt.Errorf("invalid redis url: %w", err)
	}
	q := u.Query()
	prefix := q.Get("prefix")
	q.Del("prefix")
	u.RawQuery = q.Encode()
	return u.String(), prefix, nil
}

// opened keeps a failed constructor from yielding a non-nil Sink holding a
// nil pointer.
func opened[T Sink](s T, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
