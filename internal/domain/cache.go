package domain

import (
	"context"
	"time"
)

// MarketCache provides fast lookups of markets and proposals.
type MarketCache interface {
	SetMarket(ctx context.Context, market Market) error
	GetMarket(ctx context.Context, id uint64) (Market, error)
	SetProposal(ctx context.Context, proposal Proposal) error
	GetProposal(ctx context.Context, id uint64) (Proposal, error)
	InvalidateMarket(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
