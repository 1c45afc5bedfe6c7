package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

const (
	redisStateKey   = "lam:state"
	redisSchemaKey  = "lam:schema_version"
	redisSchemaVers = 1
)

// Redis stores the state as a single hash of JSON-encoded values.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(ctx, redis.NewClient(opts))
}

// NewRedis wraps an existing client and checks the connection.
func NewRedis(ctx context.Context, client *redis.Client) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Migrate records the schema version. The hash itself needs no setup.
func (r *Redis) Migrate(ctx context.Context) error {
	if err := r.client.Set(ctx, redisSchemaKey, redisSchemaVers, 0).Err(); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (*state.Shared, error) {
	raw, err := r.client.HGetAll(ctx, redisStateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	data := make(map[string]value.Value, len(raw))
	for key, enc := range raw {
		var v value.Value
		if err := json.Unmarshal([]byte(enc), &v); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		data[key] = v
	}
	return state.FromMap(data), nil
}

func (r *Redis) Commit(ctx context.Context, shared *state.Shared) error {
	snap := shared.Snapshot()

	fields := make(map[string]any, len(snap))
	for key, v := range snap {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		fields[key] = string(raw)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisStateKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, redisStateKey, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
