// Package ledger is the voucher redemption state machine: the used-voucher
// set, per-user reward balances and the owner/signer/paused configuration.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

// Payer hands a withdrawn amount to whatever moves the funds. It returns a
// reference to the transfer (job ID, tx hash).
type Payer interface {
	Pay(ctx context.Context, user common.Address, amount *big.Int) (string, error)
}

// Receipt is returned by a successful Redeem.
type Receipt struct {
	VoucherHash common.Hash
	TxRef       string
	Balance     *big.Int
}

// Payout is returned by a successful Withdraw.
type Payout struct {
	User      common.Address
	Amount    *big.Int
	Reference string
	RecordID  string
}

// VoucherStatus mirrors the Redeemer's checkVoucher view.
type VoucherStatus struct {
	Valid bool `json:"isValid"`
	Used  bool `json:"isUsed"`
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type Ledger struct {
	store Store
	payer Payer
	log   *zap.Logger
	now   func() time.Time
}

func New(store Store, payer Payer, log *zap.Logger) *Ledger {
	return &Ledger{store: store, payer: payer, log: log, now: time.Now}
}

// WithClock replaces the wall clock used for expiry checks and records.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Init seeds the configuration record on first start. An existing record is
// kept as is.
func (l *Ledger) Init(ctx context.Context, owner, signer common.Address) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", ErrValidation)
	}
	if signer == (common.Address{}) {
		return ErrInvalidAuthority
	}
	return l.store.Init(ctx, State{Owner: owner, Signer: signer})
}

// Redeem credits v.Amount to v.User if v is live, unused and signed by the
// current authority. Marking used and crediting happen in one transaction.
func (l *Ledger) Redeem(ctx context.Context, v voucher.Voucher, sig []byte) (*Receipt, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	hash := voucher.Hash(&v)
	now := l.now()
	nowSec := big.NewInt(now.Unix())

	var (
		rec     Record
		balance *big.Int
	)
	err := l.store.Update(ctx, Scope{Vouchers: []common.Hash{hash}, Users: []common.Address{v.User}}, func(tx Tx) error {
		st, err := tx.State()
		if err != nil {
			return err
		}
		if st.Paused {
			return ErrContractPaused
		}
		if nowSec.Cmp(v.Expiry) > 0 {
			return ErrVoucherExpired
		}
		used, err := tx.IsUsed(hash)
		if err != nil {
			return err
		}
		if used {
			return ErrVoucherAlreadyUsed
		}
		if !voucher.VerifyHash(hash, sig, st.Signer) {
			return ErrInvalidSignature
		}

		bal, err := tx.Balance(v.User)
		if err != nil {
			return err
		}
		bal.Add(bal, v.Amount)
		if bal.Cmp(maxUint256) > 0 {
			return fmt.Errorf("%w: balance overflow", ErrValidation)
		}

		rec = newRecord(KindVoucherRedeemed, now)
		rec.User = v.User
		rec.RewardType = v.RewardType
		rec.Amount = new(big.Int).Set(v.Amount)
		rec.VoucherHash = hash

		tx.MarkUsed(hash)
		tx.PutBalance(v.User, bal)
		tx.Append(rec)
		balance = bal
		return nil
	})
	if err != nil {
		l.logRedeemFailure(hash, v.User, err)
		return nil, err
	}

	l.log.Info("voucher redeemed",
		zap.String("user", v.User.Hex()),
		zap.String("voucher_hash", hash.Hex()),
		zap.String("amount", v.Amount.String()),
		zap.String("balance", balance.String()),
	)
	return &Receipt{VoucherHash: hash, TxRef: rec.ID, Balance: balance}, nil
}

func (l *Ledger) logRedeemFailure(hash common.Hash, user common.Address, err error) {
	fields := []zap.Field{
		zap.String("user", user.Hex()),
		zap.String("voucher_hash", hash.Hex()),
		zap.Error(err),
	}
	switch Classify(err) {
	case ClassAuthorization:
		l.log.Error("voucher rejected", fields...)
	case ClassReplay:
		l.log.Warn("voucher replay", fields...)
	case ClassTransport, ClassInternal:
		l.log.Error("redeem failed", fields...)
	default:
		l.log.Info("voucher rejected", fields...)
	}
}

// Withdraw zeroes the user's balance, then hands the amount to the payer.
// If the hand-off fails the amount is credited back and the error returned.
func (l *Ledger) Withdraw(ctx context.Context, user common.Address) (*Payout, error) {
	if user == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero user", ErrValidation)
	}
	if l.payer == nil {
		return nil, errors.New("withdraw: no payer configured")
	}
	scope := Scope{Users: []common.Address{user}}

	var (
		amount *big.Int
		rec    Record
	)
	err := l.store.Update(ctx, scope, func(tx Tx) error {
		if _, err := tx.State(); err != nil {
			return err
		}
		bal, err := tx.Balance(user)
		if err != nil {
			return err
		}
		if bal.Sign() == 0 {
			return ErrInsufficientRewards
		}
		rec = newRecord(KindRewardsWithdrawn, l.now())
		rec.User = user
		rec.Amount = bal
		tx.PutBalance(user, new(big.Int))
		tx.Append(rec)
		amount = bal
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref, payErr := l.payer.Pay(ctx, user, amount)
	if payErr == nil {
		l.log.Info("rewards withdrawn",
			zap.String("user", user.Hex()),
			zap.String("amount", amount.String()),
			zap.String("reference", ref),
		)
		return &Payout{User: user, Amount: amount, Reference: ref, RecordID: rec.ID}, nil
	}

	// Compensate even if the caller's context is already done.
	rctx := context.WithoutCancel(ctx)
	recreditErr := l.store.Update(rctx, scope, func(tx Tx) error {
		bal, err := tx.Balance(user)
		if err != nil {
			return err
		}
		r := newRecord(KindWithdrawReverted, l.now())
		r.User = user
		r.Amount = new(big.Int).Set(amount)
		tx.PutBalance(user, bal.Add(bal, amount))
		tx.Append(r)
		return nil
	})
	if recreditErr != nil {
		l.log.Error("re-credit after failed payout failed",
			zap.String("user", user.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(recreditErr),
		)
		return nil, fmt.Errorf("payout: %w (re-credit failed: %w)", payErr, recreditErr)
	}
	l.log.Warn("payout failed, balance restored",
		zap.String("user", user.Hex()),
		zap.String("amount", amount.String()),
		zap.Error(payErr),
	)
	if Classify(payErr) == ClassInternal {
		payErr = fmt.Errorf("%w: %w", ErrTransport, payErr)
	}
	return nil, fmt.Errorf("payout: %w", payErr)
}

// CheckVoucher reports whether v could be redeemed now, ignoring the signature.
func (l *Ledger) CheckVoucher(ctx context.Context, v voucher.Voucher) (VoucherStatus, error) {
	if err := v.Validate(); err != nil {
		return VoucherStatus{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	hash := voucher.Hash(&v)
	var status VoucherStatus
	err := l.store.View(ctx, Scope{Vouchers: []common.Hash{hash}}, func(r Reader) error {
		st, err := r.State()
		if err != nil {
			return err
		}
		used, err := r.IsUsed(hash)
		if err != nil {
			return err
		}
		notExpired := big.NewInt(l.now().Unix()).Cmp(v.Expiry) <= 0
		status = VoucherStatus{Used: used, Valid: notExpired && !used && !st.Paused}
		return nil
	})
	return status, err
}

// SetSigner rotates the signing authority. Unredeemed vouchers signed by
// the previous authority stop verifying.
func (l *Ledger) SetSigner(ctx context.Context, caller, signer common.Address) error {
	if signer == (common.Address{}) {
		return ErrInvalidAuthority
	}
	err := l.updateState(ctx, caller, func(st *State, rec *Record) {
		st.Signer = signer
		rec.Kind = KindSignerUpdated
		rec.Signer = signer
	})
	if err != nil {
		return err
	}
	l.log.Info("signer updated", zap.String("signer", signer.Hex()), zap.String("by", caller.Hex()))
	return nil
}

func (l *Ledger) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	err := l.updateState(ctx, caller, func(st *State, rec *Record) {
		st.Paused = paused
		rec.Kind = KindPausedUpdated
		rec.Paused = paused
	})
	if err != nil {
		return err
	}
	l.log.Info("paused updated", zap.Bool("paused", paused), zap.String("by", caller.Hex()))
	return nil
}

func (l *Ledger) updateState(ctx context.Context, caller common.Address, mutate func(*State, *Record)) error {
	return l.store.Update(ctx, Scope{}, func(tx Tx) error {
		st, err := tx.State()
		if err != nil {
			return err
		}
		if caller == (common.Address{}) || caller != st.Owner {
			l.log.Error("unauthorized admin call", zap.String("caller", caller.Hex()))
			return ErrUnauthorized
		}
		rec := newRecord("", l.now())
		mutate(&st, &rec)
		tx.PutState(st)
		tx.Append(rec)
		return nil
	})
}

func (l *Ledger) RewardBalance(ctx context.Context, user common.Address) (*big.Int, error) {
	var bal *big.Int
	err := l.store.View(ctx, Scope{Users: []common.Address{user}}, func(r Reader) error {
		var err error
		bal, err = r.Balance(user)
		return err
	})
	return bal, err
}

func (l *Ledger) State(ctx context.Context) (State, error) {
	var st State
	err := l.store.View(ctx, Scope{}, func(r Reader) error {
		var err error
		st, err = r.State()
		return err
	})
	return st, err
}

func (l *Ledger) IsUsed(ctx context.Context, hash common.Hash) (bool, error) {
	var used bool
	err := l.store.View(ctx, Scope{Vouchers: []common.Hash{hash}}, func(r Reader) error {
		var err error
		used, err = r.IsUsed(hash)
		return err
	})
	return used, err
}

func (l *Ledger) Records(ctx context.Context, limit int) ([]Record, error) {
	return l.store.Records(ctx, limit)
}
