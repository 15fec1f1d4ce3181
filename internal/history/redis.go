package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "iris:calls"

// RedisStore keeps capped lists of JSON records, one per target plus one
// spanning all targets.
type RedisStore struct {
	client   *redis.Client
	capacity int
}

// NewRedisStore accepts a redis:// URL or a bare host:port address.
func NewRedisStore(ctx context.Context, addr, password string, capacity int) (*RedisStore, error) {
	opts, err := redisOptions(addr, password)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = 100
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, capacity: capacity}, nil
}

func redisOptions(addr, password string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr, Password: password, DB: 0}, nil
}

func redisKey(target string) string {
	if target == "" {
		return redisKeyPrefix
	}
	return redisKeyPrefix + ":" + target
}

func (s *RedisStore) Save(ctx context.Context, record Record) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode call %s: %w", record.CallID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range []string{redisKey(record.Target), redisKey("")} {
			p.LPush(ctx, key, raw)
			p.LTrim(ctx, key, 0, int64(s.capacity-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save call %s: %w", record.CallID, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, target string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	raws, err := s.client.LRange(ctx, redisKey(target), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode call history entry: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
