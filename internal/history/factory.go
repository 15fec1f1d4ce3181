package history

import (
	"context"
	"strings"
)

type Options struct {
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	// Capacity bounds in-memory and redis history per target.
	Capacity int
}

// NewStore picks postgres when DatabaseURL is set, then redis when
// RedisURL is set, otherwise an in-memory store.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case strings.TrimSpace(opts.RedisURL) != "":
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisPassword, opts.Capacity)
	default:
		return NewInMemoryStore(opts.Capacity), nil
	}
}

// Mode names the backend kind of s.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	case *InMemoryStore:
		return "memory"
	default:
		return "custom"
	}
}
