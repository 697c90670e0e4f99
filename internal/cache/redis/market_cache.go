package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON values under TTL.
// Proposals are immutable, so they are cached for the full TTL without
// invalidation; markets are rewritten by the service on every change.
//
// Key schema:
//
//	market:{id}                - JSON market
//	proposal:{id}              - JSON proposal
//	market:{id}:proposals      - set of proposal ids seen for the market
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A zero ttl uses five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(id uint64) string {
	return mc.c.key("market", strconv.FormatUint(id, 10))
}

func (mc *MarketCache) proposalKey(id uint64) string {
	return mc.c.key("proposal", strconv.FormatUint(id, 10))
}

func (mc *MarketCache) marketProposalsKey(id uint64) string {
	return mc.c.key("market", strconv.FormatUint(id, 10), "proposals")
}

// SetMarket stores a market.
func (mc *MarketCache) SetMarket(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.marketKey(market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// GetMarket returns domain.ErrNotFound on a miss.
func (mc *MarketCache) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	var m domain.Market
	if err := mc.get(ctx, mc.marketKey(id), &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}
	return m, nil
}

// SetProposal stores a proposal and indexes it under its market.
func (mc *MarketCache) SetProposal(ctx context.Context, p domain.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal proposal %d: %w", p.ID, err)
	}

	idx := mc.marketProposalsKey(p.MarketID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.Set(ctx, mc.proposalKey(p.ID), data, mc.ttl)
	pipe.SAdd(ctx, idx, p.ID)
	pipe.Expire(ctx, idx, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set proposal %d: %w", p.ID, err)
	}
	return nil
}

// GetProposal returns domain.ErrNotFound on a miss.
func (mc *MarketCache) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	var p domain.Proposal
	if err := mc.get(ctx, mc.proposalKey(id), &p); err != nil {
		return domain.Proposal{}, fmt.Errorf("redis: get proposal %d: %w", id, err)
	}
	return p, nil
}

// InvalidateMarket drops a market and every cached proposal indexed under it.
func (mc *MarketCache) InvalidateMarket(ctx context.Context, id uint64) error {
	idx := mc.marketProposalsKey(id)
	members, err := mc.c.rdb.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}

	stale := []string{mc.marketKey(id), idx}
	for _, m := range members {
		pid, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		stale = append(stale, mc.proposalKey(pid))
	}
	if err := mc.c.rdb.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

func (mc *MarketCache) get(ctx context.Context, key string, v any) error {
	data, err := mc.c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
