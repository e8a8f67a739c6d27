package issuance

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceSource yields a voucherNonce distinct from every earlier one it returned.
type NonceSource interface {
	Next(ctx context.Context) (*big.Int, error)
}

// RandomNonces draws 128-bit nonces from crypto/rand.
type RandomNonces struct{}

var nonceLimit = new(big.Int).Lsh(big.NewInt(1), 128)

func (RandomNonces) Next(context.Context) (*big.Int, error) {
	n, err := rand.Int(rand.Reader, nonceLimit)
	if err != nil {
		return nil, fmt.Errorf("random nonce: %w", err)
	}
	return n, nil
}

// DefaultNonceKey holds the shared issuance counter.
const DefaultNonceKey = "shadowbox:issuance:nonce"

// CounterNonces increments a Redis counter shared by every issuer process.
// The counter is seeded from the clock in milliseconds on first use so that
// a wiped Redis does not reissue nonces from an earlier deployment.
type CounterNonces struct {
	rdb redis.Cmdable
	key string
	now func() time.Time
}

func NewCounterNonces(rdb redis.Cmdable, key string) *CounterNonces {
	if key == "" {
		key = DefaultNonceKey
	}
	return &CounterNonces{rdb: rdb, key: key, now: time.Now}
}

func (c *CounterNonces) Next(ctx context.Context) (*big.Int, error) {
	if err := c.rdb.SetNX(ctx, c.key, c.now().UnixMilli(), 0).Err(); err != nil {
		return nil, fmt.Errorf("seed nonce: %w", err)
	}
	n, err := c.rdb.Incr(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("incr nonce: %w", err)
	}
	return big.NewInt(n), nil
}
