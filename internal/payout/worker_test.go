package payout

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ── helpers ───────────────────────────────────────────────────────────────────

var testUser = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

type outcomeResult struct {
	outcome TxOutcome
	err     error
}

// fakeTransferer signs real transactions and answers TxOutcome from a script;
// once the script runs out every tx has succeeded.
type fakeTransferer struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	signErr  error
	nonce    uint64
	signed   []*types.Transaction
	sent     []common.Hash
	outcomes []outcomeResult
}

func newFakeTransferer(t *testing.T) *fakeTransferer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeTransferer{key: key}
}

func (f *fakeTransferer) SignReward(_ context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return nil, f.signErr
	}
	tx, err := types.SignNewTx(f.key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     f.nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1),
		Gas:       60000,
		To:        &to,
		Data:      amount.Bytes(),
	})
	if err != nil {
		return nil, err
	}
	f.nonce++
	f.signed = append(f.signed, tx)
	return tx, nil
}

func (f *fakeTransferer) SendTx(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx.Hash())
	return nil
}

func (f *fakeTransferer) TxOutcome(context.Context, *types.Transaction) (TxOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		return TxSucceeded, nil
	}
	r := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return r.outcome, r.err
}

func (f *fakeTransferer) signedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signed)
}

type statusLog struct {
	mu  sync.Mutex
	got []string
}

func (s *statusLog) ObservePayout(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, status)
}

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, NewQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func popJob(t *testing.T, mr *miniredis.Miniredis, key string) Job {
	t.Helper()
	raw, err := mr.Lpop(key)
	require.NoError(t, err)
	var j Job
	require.NoError(t, json.Unmarshal([]byte(raw), &j))
	return j
}

// ── Queue ─────────────────────────────────────────────────────────────────────

func TestQueue_PayEnqueues(t *testing.T) {
	mr, q := newTestQueue(t)
	id, err := q.Pay(context.Background(), testUser, big.NewInt(1000))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j := popJob(t, mr, DefaultQueueKey)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, testUser, j.User)
	assert.Equal(t, "1000", j.Amount)
	assert.Zero(t, j.Attempts)
}

func TestQueue_RecoverReturnsInFlightJobs(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Pay(ctx, testUser, big.NewInt(1))
	require.NoError(t, err)
	_, err = q.Pay(ctx, testUser, big.NewInt(2))
	require.NoError(t, err)

	raw, err := q.claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Contains(t, raw, `"amount":"1"`)
	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.False(t, mr.Exists(DefaultProcessingKey))
	assert.Equal(t, "1", popJob(t, mr, DefaultQueueKey).Amount)
}

func TestQueue_PayRedisDown(t *testing.T) {
	mr, q := newTestQueue(t)
	mr.Close()
	_, err := q.Pay(context.Background(), testUser, big.NewInt(1))
	require.Error(t, err)
}

// ── Process ───────────────────────────────────────────────────────────────────

func fastWorker(q *Queue, tr Transferer, cfg WorkerConfig, obs Observer) *Worker {
	cfg.ConfirmPoll = 5 * time.Millisecond
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 50 * time.Millisecond
	}
	return NewWorker(q, tr, cfg, obs, zap.NewNop())
}

func TestProcess_Paid(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	obs := &statusLog{}
	w := fastWorker(q, tr, WorkerConfig{}, obs)

	st := w.Process(context.Background(), Job{ID: "j1", User: testUser, Amount: "42"})
	assert.Equal(t, StatusPaid, st)
	require.Len(t, tr.signed, 1)
	assert.Equal(t, testUser, *tr.signed[0].To())
	assert.Equal(t, []common.Hash{tr.signed[0].Hash()}, tr.sent)
	assert.Equal(t, []string{"PAID"}, obs.got)
	assert.False(t, mr.Exists(DefaultProcessingKey))
}

func TestProcess_UnconfirmedTransferIsNeverSignedTwice(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	timeout := fmt.Errorf("%w: wait mined: context deadline exceeded", errors.New("transport"))
	tr.outcomes = []outcomeResult{{err: timeout}, {err: timeout}}
	obs := &statusLog{}
	w := fastWorker(q, tr, WorkerConfig{MaxAttempts: 5}, obs)
	ctx := context.Background()

	job := Job{ID: "j2", User: testUser, Amount: "1000"}
	for i := 0; i < 3; i++ {
		if st := w.Process(ctx, job); st == StatusRetry {
			job = popJob(t, mr, DefaultQueueKey)
			assert.NotEmpty(t, job.RawTx)
		}
	}

	assert.Equal(t, []string{"RETRY", "RETRY", "PAID"}, obs.got)
	require.Equal(t, 1, tr.signedCount(), "one withdrawal must produce one transfer")
	for _, h := range tr.sent {
		assert.Equal(t, tr.signed[0].Hash(), h)
	}
	assert.False(t, mr.Exists(DefaultQueueKey))
	assert.False(t, mr.Exists(DefaultProcessingKey))
}

func TestProcess_RevertedTransferIsResigned(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	tr.outcomes = []outcomeResult{{outcome: TxReverted}}
	w := fastWorker(q, tr, WorkerConfig{}, nil)
	ctx := context.Background()

	assert.Equal(t, StatusRetry, w.Process(ctx, Job{ID: "j3", User: testUser, Amount: "7"}))
	requeued := popJob(t, mr, DefaultQueueKey)
	assert.Empty(t, requeued.RawTx)
	assert.Contains(t, requeued.LastError, "reverted")

	assert.Equal(t, StatusPaid, w.Process(ctx, requeued))
	require.Len(t, tr.signed, 2)
	assert.NotEqual(t, tr.signed[0].Hash(), tr.signed[1].Hash())
}

func TestProcess_DroppedTransferIsResigned(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	tr.outcomes = []outcomeResult{{outcome: TxDropped}}
	w := fastWorker(q, tr, WorkerConfig{}, nil)
	ctx := context.Background()

	assert.Equal(t, StatusRetry, w.Process(ctx, Job{ID: "j4", User: testUser, Amount: "7"}))
	assert.Equal(t, StatusPaid, w.Process(ctx, popJob(t, mr, DefaultQueueKey)))
	assert.Equal(t, 2, tr.signedCount())
}

func TestProcess_PendingExhaustsIntoDeadLetterWithTx(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	for i := 0; i < 100; i++ {
		tr.outcomes = append(tr.outcomes, outcomeResult{outcome: TxPending})
	}
	w := fastWorker(q, tr, WorkerConfig{MaxAttempts: 2, ConfirmTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	assert.Equal(t, StatusRetry, w.Process(ctx, Job{ID: "j5", User: testUser, Amount: "9"}))
	assert.Equal(t, StatusDeadLettered, w.Process(ctx, popJob(t, mr, DefaultQueueKey)))
	assert.Equal(t, 1, tr.signedCount())

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, tr.signed[0].Hash().Hex(), dead[0].TxHash)
	assert.Contains(t, dead[0].LastError, "not mined")
}

func TestProcess_SignErrorRetryThenDeadLetter(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	tr.signErr = errors.New("insufficient funds for gas")
	w := fastWorker(q, tr, WorkerConfig{MaxAttempts: 2}, nil)
	ctx := context.Background()

	st := w.Process(ctx, Job{ID: "j6", User: testUser, Amount: "5"})
	assert.Equal(t, StatusRetry, st)
	requeued := popJob(t, mr, DefaultQueueKey)
	assert.Equal(t, 1, requeued.Attempts)
	assert.Equal(t, "insufficient funds for gas", requeued.LastError)

	st = w.Process(ctx, requeued)
	assert.Equal(t, StatusDeadLettered, st)
	assert.False(t, mr.Exists(DefaultQueueKey))

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "j6", dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Empty(t, tr.sent)
}

func TestProcess_BadAmountDeadLetters(t *testing.T) {
	_, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	w := fastWorker(q, tr, WorkerConfig{}, nil)

	st := w.Process(context.Background(), Job{ID: "j7", User: testUser, Amount: "-1"})
	assert.Equal(t, StatusDeadLettered, st)
	assert.Zero(t, tr.signedCount())
}

// ── Run ───────────────────────────────────────────────────────────────────────

func TestRun_DrainsQueue(t *testing.T) {
	_, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	w := fastWorker(q, tr, WorkerConfig{PollTimeout: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 1; i <= 3; i++ {
		_, err := q.Pay(ctx, testUser, big.NewInt(int64(i)))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.sent) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := q.Pending(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRun_ResumesInFlightJobWithoutResigning(t *testing.T) {
	mr, q := newTestQueue(t)
	tr := newFakeTransferer(t)
	tx, err := tr.SignReward(context.Background(), testUser, big.NewInt(1000))
	require.NoError(t, err)

	// A worker stopped after signing and storing the transfer.
	job := Job{ID: "j8", User: testUser, Amount: "1000"}
	require.NoError(t, job.attach(tx))
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	_, err = mr.Push(DefaultProcessingKey, string(raw))
	require.NoError(t, err)

	w := fastWorker(q, tr, WorkerConfig{PollTimeout: 100 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, tr.signedCount())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, tx.Hash(), tr.sent[0])
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "PAID", StatusPaid.String())
	assert.Equal(t, "RETRY", StatusRetry.String())
	assert.Equal(t, "DEAD_LETTERED", StatusDeadLettered.String())
	assert.Equal(t, "UNKNOWN", Status(9).String())
}
