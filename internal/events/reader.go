// Package events reconciles EligibilityChecked submissions with the
// transaction a user reports, and reads the user's current ciphertext handles.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSubmissionNotFound = errors.New("eligibility submission not found")
	// ErrTransport marks RPC failures; the same query may succeed on retry.
	ErrTransport = errors.New("event source unavailable")
)

// Submission is one observed EligibilityChecked event.
type Submission struct {
	User           common.Address `json:"user"`
	EligibleCipher common.Hash    `json:"eligibleCipher"`
	Nonce          string         `json:"nonce"`
	TxHash         common.Hash    `json:"transactionHash"`
	BlockNumber    uint64         `json:"blockNumber"`
	LogIndex       uint           `json:"logIndex"`
}

// HandleKind selects one of the per-user ciphertext getters.
type HandleKind int

const (
	HandleEligibility HandleKind = iota
	HandleTier
	HandleLootIndex
	HandleRewardAmount
)

func (k HandleKind) String() string {
	switch k {
	case HandleEligibility:
		return "eligibility"
	case HandleTier:
		return "tier"
	case HandleLootIndex:
		return "lootIndex"
	case HandleRewardAmount:
		return "rewardAmount"
	default:
		return "unknown"
	}
}

// Handles are the user's current encrypted results. They are opaque here
// and only meaningful to the FHE decryption service.
type Handles struct {
	Contract     common.Address `json:"contractAddress"`
	Eligibility  common.Hash    `json:"eligibility"`
	Tier         common.Hash    `json:"tier"`
	LootIndex    common.Hash    `json:"lootIndex"`
	RewardAmount common.Hash    `json:"rewardAmount"`
}

// Source is the chain access the reader needs. chain.Client implements it.
type Source interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterEligibilityChecked(ctx context.Context, user common.Address, from, to uint64) ([]Submission, error)
	UserHandle(ctx context.Context, kind HandleKind, user common.Address) (common.Hash, error)
	ShadowBoxAddress() common.Address
}

// Query selects submissions for User from FromBlock to the head, optionally
// narrowed to one transaction.
type Query struct {
	User      common.Address
	FromBlock uint64
	TxHash    *common.Hash
}

type ReaderConfig struct {
	// StartBlock is the contract's deploy block. Scans never start below it.
	StartBlock uint64
	// MaxRange caps the blocks per getLogs call; 0 means unbounded.
	MaxRange uint64
}

type Reader struct {
	src      Source
	start    uint64
	maxRange uint64
	log      *zap.Logger
}

func NewReader(src Source, cfg ReaderConfig, log *zap.Logger) *Reader {
	return &Reader{src: src, start: cfg.StartBlock, maxRange: cfg.MaxRange, log: log}
}

// Submissions returns matching events ordered by (block, log index).
func (r *Reader) Submissions(ctx context.Context, q Query) ([]Submission, error) {
	head, err := r.src.HeadBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: head block: %w", ErrTransport, err)
	}
	q.FromBlock = max(q.FromBlock, r.start)
	if q.FromBlock > head {
		return nil, nil
	}

	var out []Submission
	for from := q.FromBlock; from <= head; {
		to := head
		if r.maxRange > 0 && head-from >= r.maxRange {
			to = from + r.maxRange - 1
		}
		subs, err := r.src.FilterEligibilityChecked(ctx, q.User, from, to)
		if err != nil {
			return nil, fmt.Errorf("%w: logs %d-%d: %w", ErrTransport, from, to, err)
		}
		for _, s := range subs {
			if q.TxHash != nil && s.TxHash != *q.TxHash {
				continue
			}
			out = append(out, s)
		}
		if to == head {
			break
		}
		from = to + 1
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	r.log.Debug("eligibility scan",
		zap.String("user", q.User.Hex()),
		zap.Uint64("from", q.FromBlock),
		zap.Uint64("head", head),
		zap.Int("matches", len(out)),
	)
	return out, nil
}

// FindSubmission returns the submission emitted by txHash for user.
func (r *Reader) FindSubmission(ctx context.Context, user common.Address, fromBlock uint64, txHash common.Hash) (*Submission, error) {
	subs, err := r.Submissions(ctx, Query{User: user, FromBlock: fromBlock, TxHash: &txHash})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: tx %s", ErrSubmissionNotFound, txHash.Hex())
	}
	return &subs[len(subs)-1], nil
}

// Handles reads the four ciphertext handles concurrently.
func (r *Reader) Handles(ctx context.Context, user common.Address) (*Handles, error) {
	h := &Handles{Contract: r.src.ShadowBoxAddress()}
	targets := map[HandleKind]*common.Hash{
		HandleEligibility:  &h.Eligibility,
		HandleTier:         &h.Tier,
		HandleLootIndex:    &h.LootIndex,
		HandleRewardAmount: &h.RewardAmount,
	}

	g, gctx := errgroup.WithContext(ctx)
	for kind, dst := range targets {
		g.Go(func() error {
			v, err := r.src.UserHandle(gctx, kind, user)
			if err != nil {
				return fmt.Errorf("%w: %s handle: %w", ErrTransport, kind, err)
			}
			*dst = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h, nil
}
