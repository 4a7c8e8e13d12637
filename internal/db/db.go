// Package db holds storage contracts shared by the concrete backends.
package db

import (
	"context"
	"time"
)

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Waiter blocks until the backend answers or the timeout expires.
type Waiter interface {
	WaitForReady(ctx context.Context, timeout time.Duration) error
}
