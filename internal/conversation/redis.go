package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each user's history in a Redis list at
// <prefix>:<userID>, shared by every process pointed at the same server.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	maxTurns int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, maxTurns int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisStore(rdb, cfg.KeyPrefix, maxTurns), nil
}

func newRedisStore(rdb *redis.Client, prefix string, maxTurns int) *RedisStore {
	if prefix == "" {
		prefix = "taskmate:history"
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisStore{rdb: rdb, prefix: prefix, maxTurns: maxTurns}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Append pushes turns and trims the list in one MULTI/EXEC transaction,
// so concurrent appends never observe an untrimmed list.
func (s *RedisStore) Append(ctx context.Context, userID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values[i] = data
	}

	key := s.key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history for %s: %w", userID, err)
	}
	return nil
}

// Read returns the stored history, oldest first.
func (s *RedisStore) Read(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := s.rdb.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", userID, err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Stats returns backend information. Key counts are not scanned.
func (s *RedisStore) Stats() map[string]any {
	return map[string]any{
		"backend":      "redis",
		"addr":         s.rdb.Options().Addr,
		"key_prefix":   s.prefix,
		"max_per_user": s.maxTurns,
	}
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
