// Package payout moves withdrawn reward balances to users. Withdrawals are
// queued in Redis and a worker transfers tokens from the treasury.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultQueueKey      = "shadowbox:payout:queue"
	DefaultProcessingKey = "shadowbox:payout:processing"
	DefaultDLQKey        = "shadowbox:payout:dlq"
)

// Job is one pending transfer. Once a transfer is signed, RawTx holds it and
// the job only ever rebroadcasts that transaction until it is mined or dropped.
type Job struct {
	ID        string         `json:"id"`
	User      common.Address `json:"user"`
	Amount    string         `json:"amount"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"createdAt"`
	TxHash    string         `json:"txHash,omitempty"`
	RawTx     string         `json:"rawTx,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

func (j Job) amount() (*big.Int, error) {
	a, ok := new(big.Int).SetString(j.Amount, 10)
	if !ok || a.Sign() <= 0 {
		return nil, fmt.Errorf("job %s: bad amount %q", j.ID, j.Amount)
	}
	return a, nil
}

func (j *Job) attach(tx *types.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	j.RawTx = hexutil.Encode(raw)
	j.TxHash = tx.Hash().Hex()
	return nil
}

func (j *Job) detach() {
	j.RawTx = ""
	j.TxHash = ""
}

func (j Job) tx() (*types.Transaction, error) {
	raw, err := hexutil.Decode(j.RawTx)
	if err != nil {
		return nil, fmt.Errorf("job %s: decode tx: %w", j.ID, err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("job %s: decode tx: %w", j.ID, err)
	}
	return tx, nil
}

// Queue is the ledger's Payer: Pay enqueues and returns the job ID.
// Jobs move from the queue to a processing list while a worker holds them.
type Queue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	dlqKey        string
	now           func() time.Time
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{
		rdb:           rdb,
		queueKey:      DefaultQueueKey,
		processingKey: DefaultProcessingKey,
		dlqKey:        DefaultDLQKey,
		now:           time.Now,
	}
}

func (q *Queue) Pay(ctx context.Context, user common.Address, amount *big.Int) (string, error) {
	job := Job{
		ID:        uuid.NewString(),
		User:      user,
		Amount:    amount.String(),
		CreatedAt: q.now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queueKey, raw).Err(); err != nil {
		return "", fmt.Errorf("enqueue payout: %w", err)
	}
	return job.ID, nil
}

// claim moves the next job onto the processing list and returns its raw form.
func (q *Queue) claim(ctx context.Context, timeout time.Duration) (string, error) {
	return q.rdb.BLMove(ctx, q.queueKey, q.processingKey, "LEFT", "RIGHT", timeout).Result()
}

// checkpoint replaces the in-flight entry old with job and returns the new raw form.
func (q *Queue) checkpoint(ctx context.Context, old string, job Job) (string, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey, 1, old)
		p.RPush(ctx, q.processingKey, raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint job %s: %w", job.ID, err)
	}
	return string(raw), nil
}

// release drops the in-flight entry and, when dest is set, pushes job there
// in the same transaction.
func (q *Queue) release(ctx context.Context, old, dest string, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey, 1, old)
		if dest != "" {
			p.RPush(ctx, dest, raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	return nil
}

// Recover returns jobs left on the processing list by a stopped worker to
// the head of the queue.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey, q.queueKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover payouts: %w", err)
		}
		n++
	}
}

// Pending returns the number of queued and in-flight jobs.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	var queued, inflight *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		queued = p.LLen(ctx, q.queueKey)
		inflight = p.LLen(ctx, q.processingKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return queued.Val() + inflight.Val(), nil
}

// DeadLetters returns jobs that exhausted their attempts.
func (q *Queue) DeadLetters(ctx context.Context) ([]Job, error) {
	raw, err := q.rdb.LRange(ctx, q.dlqKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(raw))
	for _, r := range raw {
		var j Job
		if err := json.Unmarshal([]byte(r), &j); err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}
