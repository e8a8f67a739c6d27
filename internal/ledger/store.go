package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

// State is the persistent configuration record read inside every redeem.
type State struct {
	Owner  common.Address `json:"owner"`
	Signer common.Address `json:"signer"`
	Paused bool           `json:"paused"`
}

// RecordKind names an audit journal entry.
type RecordKind string

const (
	KindVoucherRedeemed  RecordKind = "voucher_redeemed"
	KindRewardsWithdrawn RecordKind = "rewards_withdrawn"
	KindWithdrawReverted RecordKind = "withdraw_reverted"
	KindSignerUpdated    RecordKind = "signer_updated"
	KindPausedUpdated    RecordKind = "paused_updated"
)

// Record is one append-only audit entry. Fields not relevant to Kind are zero.
type Record struct {
	ID          string             `json:"id"`
	Kind        RecordKind         `json:"kind"`
	User        common.Address     `json:"user,omitempty"`
	RewardType  voucher.RewardType `json:"rewardType"`
	Amount      *big.Int           `json:"amount,omitempty"`
	VoucherHash common.Hash        `json:"voucherHash,omitempty"`
	Signer      common.Address     `json:"signer,omitempty"`
	Paused      bool               `json:"paused,omitempty"`
	At          time.Time          `json:"at"`
}

func newRecord(kind RecordKind, at time.Time) Record {
	return Record{ID: uuid.NewString(), Kind: kind, At: at.UTC()}
}

// Reader is the read half of a ledger transaction.
type Reader interface {
	State() (State, error)
	IsUsed(hash common.Hash) (bool, error)
	Balance(user common.Address) (*big.Int, error)
}

// Tx stages writes that are applied only if the transaction function
// returns nil. Reads observe the transaction's own staged writes.
type Tx interface {
	Reader
	PutState(State)
	MarkUsed(hash common.Hash)
	PutBalance(user common.Address, amount *big.Int)
	Append(Record)
}

// Scope lists the per-voucher and per-user keys a transaction touches.
// The state record is always in scope.
type Scope struct {
	Vouchers []common.Hash
	Users    []common.Address
}

// Store persists LedgerState, the used-voucher set, balances and the journal.
// Update runs fn serializably with respect to any other transaction that
// shares a key with scope; fn may run more than once.
type Store interface {
	Init(ctx context.Context, st State) error
	View(ctx context.Context, scope Scope, fn func(Reader) error) error
	Update(ctx context.Context, scope Scope, fn func(Tx) error) error
	Records(ctx context.Context, limit int) ([]Record, error)
}
