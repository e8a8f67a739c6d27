// Package issuance turns a user's decrypted tier into a signed voucher and
// redeems it on the user's behalf.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

// DefaultVoucherTTL is how long an issued voucher stays redeemable.
const DefaultVoucherTTL = 7 * 24 * time.Hour

// Redeemer is the ledger the service redeems against: the local
// *ledger.Ledger or the on-chain Redeemer client.
type Redeemer interface {
	Redeem(ctx context.Context, v voucher.Voucher, sig []byte) (*ledger.Receipt, error)
}

// Claim is the result of a successful issuance.
type Claim struct {
	Voucher     voucher.Signed
	VoucherHash common.Hash
	TxRef       string
	Balance     *big.Int
	Amount      *big.Int
}

// Request is a claim as received from a client.
type Request struct {
	User        common.Address
	Tier        Tier
	Attestation *Attestation
}

// Observer receives claim outcomes; metrics.Metrics implements it.
type Observer interface {
	ObserveClaim(tier string, outcome string)
}

type Config struct {
	VoucherTTL time.Duration
	Rewards    RewardTable
	Nonces     NonceSource
	// Attestor, when set, gates Claim on a signed tier attestation.
	Attestor *Attestor
}

type Service struct {
	signer   *voucher.Signer
	redeemer Redeemer
	cfg      Config
	log      *zap.Logger
	obs      Observer
	now      func() time.Time
}

func NewService(signer *voucher.Signer, redeemer Redeemer, cfg Config, log *zap.Logger) *Service {
	if cfg.VoucherTTL <= 0 {
		cfg.VoucherTTL = DefaultVoucherTTL
	}
	if cfg.Rewards == nil {
		cfg.Rewards = DefaultRewardTable(18)
	}
	if cfg.Nonces == nil {
		cfg.Nonces = RandomNonces{}
	}
	if cfg.Attestor == nil {
		log.Warn("no tier attester configured: claims trust the client-supplied tier")
	}
	return &Service{signer: signer, redeemer: redeemer, cfg: cfg, log: log, now: time.Now}
}

// WithObserver attaches a claim outcome observer.
func (s *Service) WithObserver(o Observer) *Service {
	s.obs = o
	return s
}

// Claim checks the tier attestation when an attester is configured, then
// issues and redeems.
func (s *Service) Claim(ctx context.Context, req Request) (*Claim, error) {
	if s.cfg.Attestor != nil {
		if err := s.cfg.Attestor.Check(req.User, req.Tier, req.Attestation); err != nil {
			s.log.Error("claim rejected", zap.String("user", req.User.Hex()), zap.Error(err))
			s.observe(req.Tier, err)
			return nil, err
		}
	}
	return s.IssueAndRedeem(ctx, req.User, req.Tier)
}

// IssueAndRedeem builds a token voucher for tier, signs it and redeems it.
// Redeem errors are returned unchanged.
func (s *Service) IssueAndRedeem(ctx context.Context, user common.Address, tier Tier) (c *Claim, err error) {
	defer func() { s.observe(tier, err) }()

	if user == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero user", ledger.ErrValidation)
	}
	amount, err := s.cfg.Rewards.Amount(tier)
	if err != nil {
		return nil, err
	}
	if !s.signer.Available() {
		return nil, voucher.ErrSigningUnavailable
	}
	nonce, err := s.cfg.Nonces.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrTransport, err)
	}

	signed, err := s.signer.Sign(voucher.Voucher{
		User:         user,
		RewardType:   voucher.RewardToken,
		Amount:       amount,
		Expiry:       big.NewInt(s.now().Add(s.cfg.VoucherTTL).Unix()),
		VoucherNonce: nonce,
	})
	if err != nil {
		return nil, err
	}
	hash := voucher.Hash(&signed.Voucher)

	rc, err := s.redeemer.Redeem(ctx, signed.Voucher, signed.Signature)
	if err != nil {
		return nil, err
	}

	s.log.Info("voucher issued",
		zap.String("user", user.Hex()),
		zap.Stringer("tier", tier),
		zap.String("voucher_hash", hash.Hex()),
		zap.String("tx_ref", rc.TxRef),
	)
	return &Claim{
		Voucher:     *signed,
		VoucherHash: hash,
		TxRef:       rc.TxRef,
		Balance:     rc.Balance,
		Amount:      amount,
	}, nil
}

func (s *Service) observe(tier Tier, err error) {
	if s.obs == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ledger.Classify(err).String()
		if errors.Is(err, voucher.ErrSigningUnavailable) {
			outcome = "signing_unavailable"
		}
	}
	s.obs.ObserveClaim(tier.String(), outcome)
}
