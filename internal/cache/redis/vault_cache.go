package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paisadex/escrowd/internal/domain"
)

// vaultTTL bounds how stale a cached position may be. It matches the
// allowance/balance refresh cadence: after confirmation the entry is
// invalidated explicitly, so the TTL only covers the read path.
const vaultTTL = 5 * time.Second

// VaultCache implements domain.VaultCache using Redis hashes. Each position
// is stored at "vault:{user}:{chain}:{token}" with fields "physical" and
// "reserved".
type VaultCache struct {
	rdb *redis.Client
}

// NewVaultCache creates a VaultCache backed by the given Client.
func NewVaultCache(c *Client) *VaultCache {
	return &VaultCache{rdb: c.Underlying()}
}

func vaultKey(user, chain, token string) string {
	return "vault:" + user + ":" + chain + ":" + token
}

// Get retrieves a cached position. It returns domain.ErrNotFound when the
// entry is absent or expired.
func (vc *VaultCache) Get(ctx context.Context, user, chain, token string) (*domain.VaultPosition, error) {
	vals, err := vc.rdb.HGetAll(ctx, vaultKey(user, chain, token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get vault %s/%s: %w", chain, token, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	physical, err := strconv.ParseFloat(vals["physical"], 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse vault physical: %w", err)
	}
	reserved, err := strconv.ParseFloat(vals["reserved"], 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse vault reserved: %w", err)
	}

	return &domain.VaultPosition{
		Chain:    chain,
		Token:    token,
		Physical: physical,
		Reserved: reserved,
	}, nil
}

// Set stores a position with the cache TTL.
func (vc *VaultCache) Set(ctx context.Context, user string, pos domain.VaultPosition) error {
	key := vaultKey(user, pos.Chain, pos.Token)
	fields := map[string]interface{}{
		"physical": strconv.FormatFloat(pos.Physical, 'f', -1, 64),
		"reserved": strconv.FormatFloat(pos.Reserved, 'f', -1, 64),
	}

	pipe := vc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, vaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set vault %s: %w", key, err)
	}
	return nil
}

// Invalidate drops a cached position. Call after any confirmed deposit,
// withdraw, or lock so the next read goes to the backend.
func (vc *VaultCache) Invalidate(ctx context.Context, user, chain, token string) error {
	if err := vc.rdb.Del(ctx, vaultKey(user, chain, token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: invalidate vault %s/%s: %w", chain, token, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.VaultCache = (*VaultCache)(nil)
