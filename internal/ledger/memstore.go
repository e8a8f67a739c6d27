package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemStore is a process-local Store. One mutex covers check and apply.
type MemStore struct {
	mu       sync.RWMutex
	state    *State
	used     map[common.Hash]struct{}
	balances map[common.Address]*big.Int
	records  []Record
}

func NewMemStore() *MemStore {
	return &MemStore{
		used:     make(map[common.Hash]struct{}),
		balances: make(map[common.Address]*big.Int),
	}
}

func (s *MemStore) Init(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &st
	}
	return nil
}

func (s *MemStore) View(_ context.Context, _ Scope, fn func(Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s})
}

func (s *MemStore) Update(_ context.Context, _ Scope, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, used: map[common.Hash]struct{}{}, balances: map[common.Address]*big.Int{}}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (s *MemStore) Records(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

type memTx struct {
	s        *MemStore
	state    *State
	used     map[common.Hash]struct{}
	balances map[common.Address]*big.Int
	records  []Record
}

func (t *memTx) State() (State, error) {
	if t.state != nil {
		return *t.state, nil
	}
	if t.s.state == nil {
		return State{}, ErrNotInitialized
	}
	return *t.s.state, nil
}

func (t *memTx) IsUsed(hash common.Hash) (bool, error) {
	if _, ok := t.used[hash]; ok {
		return true, nil
	}
	_, ok := t.s.used[hash]
	return ok, nil
}

func (t *memTx) Balance(user common.Address) (*big.Int, error) {
	if b, ok := t.balances[user]; ok {
		return new(big.Int).Set(b), nil
	}
	if b, ok := t.s.balances[user]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *memTx) PutState(st State)         { t.state = &st }
func (t *memTx) MarkUsed(hash common.Hash) { t.used[hash] = struct{}{} }
func (t *memTx) Append(r Record)           { t.records = append(t.records, r) }
func (t *memTx) PutBalance(user common.Address, amount *big.Int) {
	t.balances[user] = new(big.Int).Set(amount)
}

func (t *memTx) apply() {
	if t.state != nil {
		t.s.state = t.state
	}
	for h := range t.used {
		t.s.used[h] = struct{}{}
	}
	for u, b := range t.balances {
		t.s.balances[u] = b
	}
	t.s.records = append(t.s.records, t.records...)
}
