package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TxOutcome is what the chain says about a broadcast transfer.
type TxOutcome uint8

const (
	// TxPending: no receipt yet and the sender nonce is still open.
	TxPending TxOutcome = iota
	TxSucceeded
	TxReverted
	// TxDropped: no receipt and the sender nonce was used by another tx.
	TxDropped
)

// Transferer signs and sends reward transfers from the treasury.
// chain.Client implements it.
type Transferer interface {
	SignReward(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
	// SendTx broadcasts tx. Sending the same signed tx again is harmless.
	SendTx(ctx context.Context, tx *types.Transaction) error
	TxOutcome(ctx context.Context, tx *types.Transaction) (TxOutcome, error)
}

// Observer receives job outcomes; metrics.Metrics implements it.
type Observer interface {
	ObservePayout(status string)
}

// Status is the outcome of one job attempt.
type Status uint8

const (
	StatusPaid Status = iota
	StatusRetry
	StatusDeadLettered
)

func (s Status) String() string {
	switch s {
	case StatusPaid:
		return "PAID"
	case StatusRetry:
		return "RETRY"
	case StatusDeadLettered:
		return "DEAD_LETTERED"
	default:
		return "UNKNOWN"
	}
}

type WorkerConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// PollTimeout bounds each BLMOVE so the loop notices cancellation.
	PollTimeout time.Duration
	// ConfirmTimeout bounds how long one attempt waits for a receipt.
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

type Worker struct {
	q   *Queue
	tr  Transferer
	cfg WorkerConfig
	obs Observer
	log *zap.Logger
}

func NewWorker(q *Queue, tr Transferer, cfg WorkerConfig, obs Observer, log *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 2 * time.Second
	}
	return &Worker{q: q, tr: tr, cfg: cfg, obs: obs, log: log}
}

// Run is the worker loop: BLMOVE → sign once → broadcast → confirm.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.q.Recover(ctx); err != nil {
		w.log.Error("payout: recover in-flight jobs", zap.Error(err))
	} else if n > 0 {
		w.log.Warn("payout: requeued in-flight jobs", zap.Int("count", n))
	}
	w.log.Info("payout worker started", zap.String("queue", w.q.queueKey))
	for {
		if ctx.Err() != nil {
			w.log.Info("payout worker stopped")
			return
		}

		raw, err := w.q.claim(ctx, w.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error("payout: BLMOVE error", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			w.log.Error("payout: unmarshal job", zap.String("raw", raw), zap.Error(err))
			if rerr := w.q.rdb.LRem(context.WithoutCancel(ctx), w.q.processingKey, 1, raw).Err(); rerr != nil {
				w.log.Error("payout: drop bad job", zap.Error(rerr))
			}
			continue
		}
		if st := w.observe(w.process(ctx, raw, job)); st == StatusRetry {
			sleep(ctx, w.cfg.RetryDelay)
		}
	}
}

// Process runs one attempt for job outside the Run loop.
func (w *Worker) Process(ctx context.Context, job Job) Status {
	raw, err := json.Marshal(job)
	if err != nil {
		return w.observe(StatusDeadLettered)
	}
	return w.observe(w.process(ctx, string(raw), job))
}

func (w *Worker) observe(st Status) Status {
	if w.obs != nil {
		w.obs.ObservePayout(st.String())
	}
	return st
}

func (w *Worker) process(ctx context.Context, raw string, job Job) Status {
	amount, err := job.amount()
	if err != nil {
		job.LastError = err.Error()
		return w.deadLetter(ctx, raw, job)
	}

	if job.RawTx == "" {
		tx, err := w.tr.SignReward(ctx, job.User, amount)
		if err != nil {
			return w.retry(ctx, raw, job, err)
		}
		if err := job.attach(tx); err != nil {
			return w.retry(ctx, raw, job, err)
		}
		// The signed tx must be stored before it can reach the network.
		next, err := w.q.checkpoint(context.WithoutCancel(ctx), raw, job)
		if err != nil {
			w.log.Error("payout: checkpoint failed, not broadcasting", zap.String("job", job.ID), zap.Error(err))
			job.detach()
			return w.retry(ctx, raw, job, err)
		}
		raw = next
	}

	tx, err := job.tx()
	if err != nil {
		job.LastError = err.Error()
		return w.deadLetter(ctx, raw, job)
	}
	if err := w.tr.SendTx(ctx, tx); err != nil {
		w.log.Warn("payout: broadcast failed, checking receipt",
			zap.String("job", job.ID),
			zap.String("tx", job.TxHash),
			zap.Error(err),
		)
	}

	outcome, err := w.confirm(ctx, tx)
	switch {
	case err != nil:
		return w.retry(ctx, raw, job, fmt.Errorf("tx %s: %w", job.TxHash, err))
	case outcome == TxSucceeded:
		w.log.Info("payout sent",
			zap.String("job", job.ID),
			zap.String("user", job.User.Hex()),
			zap.String("amount", job.Amount),
			zap.String("tx", job.TxHash),
		)
		if err := w.q.release(context.WithoutCancel(ctx), raw, "", job); err != nil {
			w.log.Error("payout: release failed", zap.String("job", job.ID), zap.Error(err))
		}
		return StatusPaid
	case outcome == TxPending:
		return w.retry(ctx, raw, job, fmt.Errorf("tx %s not mined", job.TxHash))
	default:
		// Reverted or dropped: this tx can never pay, so a new one may be signed.
		failed := job.TxHash
		job.detach()
		if outcome == TxReverted {
			return w.retry(ctx, raw, job, fmt.Errorf("tx %s reverted", failed))
		}
		return w.retry(ctx, raw, job, fmt.Errorf("tx %s dropped", failed))
	}
}

// confirm polls for the tx outcome until it leaves TxPending or the confirm
// timeout passes.
func (w *Worker) confirm(ctx context.Context, tx *types.Transaction) (TxOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
	defer cancel()
	for {
		outcome, err := w.tr.TxOutcome(cctx, tx)
		if err != nil || outcome != TxPending {
			return outcome, err
		}
		sleep(cctx, w.cfg.ConfirmPoll)
		if cctx.Err() != nil {
			return TxPending, nil
		}
	}
}

func (w *Worker) retry(ctx context.Context, raw string, job Job, cause error) Status {
	job.Attempts++
	job.LastError = cause.Error()
	if job.Attempts >= w.cfg.MaxAttempts {
		return w.deadLetter(ctx, raw, job)
	}
	w.log.Warn("payout failed, requeued",
		zap.String("job", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.String("tx", job.TxHash),
		zap.Error(cause),
	)
	if err := w.q.release(context.WithoutCancel(ctx), raw, w.q.queueKey, job); err != nil {
		w.log.Error("payout: requeue failed", zap.String("job", job.ID), zap.Error(err))
	}
	return StatusRetry
}

func (w *Worker) deadLetter(ctx context.Context, raw string, job Job) Status {
	if err := w.q.release(context.WithoutCancel(ctx), raw, w.q.dlqKey, job); err != nil {
		w.log.Error("payout: DLQ push failed", zap.String("job", job.ID), zap.Error(err))
	}
	w.log.Error("payout dead-lettered",
		zap.String("job", job.ID),
		zap.String("user", job.User.Hex()),
		zap.String("amount", job.Amount),
		zap.String("tx", job.TxHash),
		zap.String("last_error", job.LastError),
	)
	return StatusDeadLettered
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
