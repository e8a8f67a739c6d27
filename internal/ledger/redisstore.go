package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "shadowbox:ledger:"

	defaultMaxRetries = 16

	fieldOwner  = "owner"
	fieldSigner = "signer"
	fieldPaused = "paused"
)

var errOutOfScope = errors.New("ledger key outside transaction scope")

// RedisStore keeps the ledger in Redis and serializes conflicting
// transactions with WATCH/MULTI, retrying on conflict.
//
//	<prefix>state             hash   owner, signer, paused
//	<prefix>used:<hash>       string "1"
//	<prefix>balance:<addr>    string decimal amount
//	<prefix>journal           list   JSON Record, oldest first
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, maxRetries: defaultMaxRetries}
}

func (s *RedisStore) stateKey() string   { return s.prefix + "state" }
func (s *RedisStore) journalKey() string { return s.prefix + "journal" }
func (s *RedisStore) usedKey(h common.Hash) string {
	return s.prefix + "used:" + h.Hex()
}
func (s *RedisStore) balanceKey(a common.Address) string {
	return s.prefix + "balance:" + a.Hex()
}

// Init writes st unless a state record already exists.
func (s *RedisStore) Init(ctx context.Context, st State) error {
	return s.Update(ctx, Scope{}, func(tx Tx) error {
		if _, err := tx.State(); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		tx.PutState(st)
		return nil
	})
}

func (s *RedisStore) View(ctx context.Context, scope Scope, fn func(Reader) error) error {
	return fn(s.newTx(ctx, s.rdb, scope))
}

func (s *RedisStore) Update(ctx context.Context, scope Scope, fn func(Tx) error) error {
	keys := []string{s.stateKey()}
	for _, h := range scope.Vouchers {
		keys = append(keys, s.usedKey(h))
	}
	for _, u := range scope.Users {
		keys = append(keys, s.balanceKey(u))
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var fnErr error
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			tx := s.newTx(ctx, rtx, scope)
			if fnErr = fn(tx); fnErr != nil {
				return fnErr
			}
			_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				return tx.apply(ctx, p)
			})
			return err
		}, keys...)
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil
	}
	return fmt.Errorf("%w: transaction conflict after %d attempts", ErrTransport, s.maxRetries)
}

// Records returns up to limit journal entries, newest first.
func (s *RedisStore) Records(ctx context.Context, limit int) ([]Record, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.rdb.LRange(ctx, s.journalKey(), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	out := make([]Record, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var r Record
		if err := json.Unmarshal([]byte(raw[i]), &r); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// redisReader is satisfied by both *redis.Client and *redis.Tx.
type redisReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// redisTx reads through cmd (the WATCHing connection inside Update) and
// stages writes for the MULTI block.
type redisTx struct {
	ctx      context.Context
	s        *RedisStore
	cmd      redisReader
	vouchers map[common.Hash]bool
	users    map[common.Address]bool

	state    *State
	used     map[common.Hash]struct{}
	balances map[common.Address]*big.Int
	records  []Record
}

func (s *RedisStore) newTx(ctx context.Context, cmd redisReader, scope Scope) *redisTx {
	tx := &redisTx{
		ctx:      ctx,
		s:        s,
		cmd:      cmd,
		vouchers: make(map[common.Hash]bool, len(scope.Vouchers)),
		users:    make(map[common.Address]bool, len(scope.Users)),
		used:     map[common.Hash]struct{}{},
		balances: map[common.Address]*big.Int{},
	}
	for _, h := range scope.Vouchers {
		tx.vouchers[h] = true
	}
	for _, u := range scope.Users {
		tx.users[u] = true
	}
	return tx
}

func (t *redisTx) State() (State, error) {
	if t.state != nil {
		return *t.state, nil
	}
	m, err := t.cmd.HGetAll(t.ctx, t.s.stateKey()).Result()
	if err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if len(m) == 0 {
		return State{}, ErrNotInitialized
	}
	return State{
		Owner:  common.HexToAddress(m[fieldOwner]),
		Signer: common.HexToAddress(m[fieldSigner]),
		Paused: m[fieldPaused] == "1",
	}, nil
}

func (t *redisTx) IsUsed(hash common.Hash) (bool, error) {
	if !t.vouchers[hash] {
		return false, fmt.Errorf("%w: voucher %s", errOutOfScope, hash.Hex())
	}
	if _, ok := t.used[hash]; ok {
		return true, nil
	}
	n, err := t.cmd.Exists(t.ctx, t.s.usedKey(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return n == 1, nil
}

func (t *redisTx) Balance(user common.Address) (*big.Int, error) {
	if !t.users[user] {
		return nil, fmt.Errorf("%w: balance %s", errOutOfScope, user.Hex())
	}
	if b, ok := t.balances[user]; ok {
		return new(big.Int).Set(b), nil
	}
	v, err := t.cmd.Get(t.ctx, t.s.balanceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	b, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance for %s: %q", user.Hex(), v)
	}
	return b, nil
}

func (t *redisTx) PutState(st State)         { t.state = &st }
func (t *redisTx) MarkUsed(hash common.Hash) { t.used[hash] = struct{}{} }
func (t *redisTx) Append(r Record)           { t.records = append(t.records, r) }
func (t *redisTx) PutBalance(user common.Address, amount *big.Int) {
	t.balances[user] = new(big.Int).Set(amount)
}

func (t *redisTx) apply(ctx context.Context, p redis.Pipeliner) error {
	if t.state != nil {
		paused := "0"
		if t.state.Paused {
			paused = "1"
		}
		p.HSet(ctx, t.s.stateKey(),
			fieldOwner, t.state.Owner.Hex(),
			fieldSigner, t.state.Signer.Hex(),
			fieldPaused, paused,
		)
	}
	for h := range t.used {
		p.Set(ctx, t.s.usedKey(h), "1", 0)
	}
	for u, b := range t.balances {
		p.Set(ctx, t.s.balanceKey(u), b.String(), 0)
	}
	for _, r := range t.records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode journal entry: %w", err)
		}
		p.RPush(ctx, t.s.journalKey(), b)
	}
	return nil
}
