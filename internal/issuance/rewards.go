package issuance

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
)

// Tier is the decrypted eligibility tier.
type Tier uint8

const (
	TierBronze Tier = 0
	TierSilver Tier = 1
	TierGold   Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// ErrNoRewardForTier wraps ledger.ErrValidation so callers classify it as bad input.
var ErrNoRewardForTier = fmt.Errorf("%w: no reward for tier", ledger.ErrValidation)

// RewardTable maps tiers to amounts in the token's smallest unit.
type RewardTable map[Tier]*big.Int

// DefaultRewardTable is 100/500/1000 whole tokens for bronze/silver/gold.
func DefaultRewardTable(decimals uint8) RewardTable {
	return RewardTable{
		TierBronze: units(100, decimals),
		TierSilver: units(500, decimals),
		TierGold:   units(1000, decimals),
	}
}

// NewRewardTable scales whole-token amounts keyed by tier number.
func NewRewardTable(whole map[int]int64, decimals uint8) (RewardTable, error) {
	t := make(RewardTable, len(whole))
	for k, v := range whole {
		if k < 0 || k > int(TierGold) {
			return nil, fmt.Errorf("reward table: unknown tier %d", k)
		}
		if v < 0 {
			return nil, errors.New("reward table: negative amount")
		}
		t[Tier(k)] = units(v, decimals)
	}
	return t, nil
}

// Amount returns a copy of the reward for tier. Unknown tiers and zero
// rewards yield ErrNoRewardForTier.
func (t RewardTable) Amount(tier Tier) (*big.Int, error) {
	a, ok := t[tier]
	if !ok || a == nil || a.Sign() <= 0 {
		return nil, fmt.Errorf("%w %s", ErrNoRewardForTier, tier)
	}
	return new(big.Int).Set(a), nil
}

func units(whole int64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, big.NewInt(whole))
}
