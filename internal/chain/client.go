package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/config"
	"github.com/0gfoundation/0g-shadowbox/internal/events"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/payout"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

var errNoTxKey = errors.New("no transaction key configured")

// Backend is the RPC surface the client needs; *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Client talks to the deployed Redeemer, ShadowBoxCore and reward token.
type Client struct {
	eth     Backend
	chainID *big.Int
	log     *zap.Logger

	redeemer  *contract
	shadowBox *contract
	token     *contract

	// txKey submits redeem and owner calls; treasuryKey funds payouts.
	txKey       *ecdsa.PrivateKey
	treasuryKey *ecdsa.PrivateKey
}

// contract pairs a parsed ABI with its bound instance.
type contract struct {
	addr  common.Address
	abi   *abi.ABI
	bound *bind.BoundContract
}

func bindContract(meta *bind.MetaData, addr common.Address, backend bind.ContractBackend) (*contract, error) {
	parsed, err := meta.GetAbi()
	if err != nil {
		return nil, err
	}
	return &contract{
		addr:  addr,
		abi:   parsed,
		bound: bind.NewBoundContract(addr, *parsed, backend, backend, backend),
	}, nil
}

func NewClient(cfg config.ChainConfig, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClientWithBackend(eth, cfg, log)
}

func NewClientWithBackend(eth Backend, cfg config.ChainConfig, log *zap.Logger) (*Client, error) {
	c := &Client{eth: eth, chainID: big.NewInt(cfg.ChainID), log: log}

	var err error
	if c.txKey, err = parseKey(cfg.TxPrivateKey); err != nil {
		return nil, fmt.Errorf("parse tx private key: %w", err)
	}
	if c.treasuryKey, err = parseKey(cfg.TreasuryPrivateKey); err != nil {
		return nil, fmt.Errorf("parse treasury private key: %w", err)
	}
	if c.treasuryKey == nil {
		c.treasuryKey = c.txKey
	}

	if c.redeemer, err = bindContract(RedeemerMetaData, common.HexToAddress(cfg.RedeemerAddress), eth); err != nil {
		return nil, fmt.Errorf("bind redeemer: %w", err)
	}
	if c.shadowBox, err = bindContract(ShadowBoxMetaData, common.HexToAddress(cfg.ShadowBoxAddress), eth); err != nil {
		return nil, fmt.Errorf("bind shadowbox: %w", err)
	}
	if c.token, err = bindContract(ERC20MetaData, common.HexToAddress(cfg.TokenAddress), eth); err != nil {
		return nil, fmt.Errorf("bind token: %w", err)
	}
	return c, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, nil
	}
	return crypto.HexToECDSA(hexKey)
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// RedeemerAddress returns the Redeemer contract address.
func (c *Client) RedeemerAddress() common.Address { return c.redeemer.addr }

// ShadowBoxAddress returns the eligibility contract address.
func (c *Client) ShadowBoxAddress() common.Address { return c.shadowBox.addr }

// TxAddress returns the account that submits transactions, or zero.
func (c *Client) TxAddress() common.Address {
	if c.txKey == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.txKey.PublicKey)
}

// transactOpts builds a *bind.TransactOpts signed by key.
func (c *Client) transactOpts(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	if key == nil {
		return nil, errNoTxKey
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// transact sends method on ct, waits for the receipt and checks its status.
func (c *Client) transact(ctx context.Context, ct *contract, key *ecdsa.PrivateKey, method string, params ...interface{}) (*types.Receipt, error) {
	opts, err := c.transactOpts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("build tx opts: %w", err)
	}
	tx, err := ct.bound.Transact(opts, method, params...)
	if err != nil {
		return nil, decodeError(ct.abi, method, err)
	}
	c.log.Debug("tx sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: wait mined %s: %w", ledger.ErrTransport, tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%s: %w: tx %s", method, ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) call(ctx context.Context, ct *contract, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := ct.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, decodeError(ct.abi, method, err)
	}
	return out, nil
}

// ── Redeemer ──────────────────────────────────────────────────────────────────

// RedeemerVoucher is the Go shape of the Redeemer's Voucher tuple.
type RedeemerVoucher struct {
	User         common.Address
	RewardType   *big.Int
	Amount       *big.Int
	Expiry       *big.Int
	VoucherNonce *big.Int
}

func toRedeemerVoucher(v voucher.Voucher) RedeemerVoucher {
	return RedeemerVoucher{
		User:         v.User,
		RewardType:   big.NewInt(int64(v.RewardType)),
		Amount:       v.Amount,
		Expiry:       v.Expiry,
		VoucherNonce: v.VoucherNonce,
	}
}

// Redeem submits the voucher to the Redeemer and waits for inclusion.
// The receipt's TxRef is the transaction hash.
func (c *Client) Redeem(ctx context.Context, v voucher.Voucher, sig []byte) (*ledger.Receipt, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrValidation, err)
	}
	receipt, err := c.transact(ctx, c.redeemer, c.txKey, "redeem", toRedeemerVoucher(v), sig)
	if err != nil {
		return nil, err
	}

	hash := voucher.Hash(&v)
	if ev, ok := c.voucherRedeemed(receipt); ok && ev.VoucherHash != hash {
		c.log.Warn("redeemer hash differs from local hash",
			zap.String("local", hash.Hex()),
			zap.String("onchain", ev.VoucherHash.Hex()),
		)
		hash = ev.VoucherHash
	}

	bal, err := c.RewardBalance(ctx, v.User)
	if err != nil {
		// The redeem is final; report it without a balance.
		c.log.Warn("read balance after redeem", zap.Error(err))
	}
	return &ledger.Receipt{VoucherHash: hash, TxRef: receipt.TxHash.Hex(), Balance: bal}, nil
}

// VoucherRedeemedEvent is the decoded VoucherRedeemed log.
type VoucherRedeemedEvent struct {
	User        common.Address
	RewardType  *big.Int
	Amount      *big.Int
	VoucherHash common.Hash
}

func (c *Client) voucherRedeemed(receipt *types.Receipt) (*VoucherRedeemedEvent, bool) {
	ev := c.redeemer.abi.Events["VoucherRedeemed"]
	for _, l := range receipt.Logs {
		if l.Address != c.redeemer.addr || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		out, err := unpackVoucherRedeemed(c.redeemer.abi, *l)
		if err != nil {
			c.log.Warn("decode VoucherRedeemed", zap.Error(err))
			return nil, false
		}
		return out, true
	}
	return nil, false
}

func unpackVoucherRedeemed(parsed *abi.ABI, l types.Log) (*VoucherRedeemedEvent, error) {
	var out VoucherRedeemedEvent
	if err := parsed.UnpackIntoInterface(&out, "VoucherRedeemed", l.Data); err != nil {
		return nil, err
	}
	if len(l.Topics) < 2 {
		return nil, errors.New("VoucherRedeemed: missing user topic")
	}
	out.User = common.BytesToAddress(l.Topics[1].Bytes())
	return &out, nil
}

func (c *Client) RewardBalance(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.redeemer, "rewardBalance", user)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) CheckVoucher(ctx context.Context, v voucher.Voucher) (ledger.VoucherStatus, error) {
	if err := v.Validate(); err != nil {
		return ledger.VoucherStatus{}, fmt.Errorf("%w: %w", ledger.ErrValidation, err)
	}
	out, err := c.call(ctx, c.redeemer, "checkVoucher", toRedeemerVoucher(v))
	if err != nil {
		return ledger.VoucherStatus{}, err
	}
	return ledger.VoucherStatus{
		Valid: *abi.ConvertType(out[0], new(bool)).(*bool),
		Used:  *abi.ConvertType(out[1], new(bool)).(*bool),
	}, nil
}

func (c *Client) IsUsed(ctx context.Context, hash common.Hash) (bool, error) {
	out, err := c.call(ctx, c.redeemer, "usedVouchers", hash)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// State reads owner, signer and paused from the Redeemer.
func (c *Client) State(ctx context.Context) (ledger.State, error) {
	var st ledger.State
	for _, f := range []struct {
		method string
		dst    interface{}
	}{
		{"owner", &st.Owner},
		{"signer", &st.Signer},
		{"paused", &st.Paused},
	} {
		out, err := c.call(ctx, c.redeemer, f.method)
		if err != nil {
			return ledger.State{}, err
		}
		switch dst := f.dst.(type) {
		case *common.Address:
			*dst = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
		case *bool:
			*dst = *abi.ConvertType(out[0], new(bool)).(*bool)
		}
	}
	return st, nil
}

// SetSigner rotates the Redeemer's authority. The tx key must be the owner.
func (c *Client) SetSigner(ctx context.Context, signer common.Address) (common.Hash, error) {
	if signer == (common.Address{}) {
		return common.Hash{}, ledger.ErrInvalidAuthority
	}
	r, err := c.transact(ctx, c.redeemer, c.txKey, "setSigner", signer)
	if err != nil {
		return common.Hash{}, err
	}
	return r.TxHash, nil
}

func (c *Client) SetPaused(ctx context.Context, paused bool) (common.Hash, error) {
	r, err := c.transact(ctx, c.redeemer, c.txKey, "setPaused", paused)
	if err != nil {
		return common.Hash{}, err
	}
	return r.TxHash, nil
}

// AddRewards approves and deposits amount of the reward token into the
// Redeemer from the treasury account.
func (c *Client) AddRewards(ctx context.Context, amount *big.Int) (common.Hash, error) {
	if _, err := c.transact(ctx, c.token, c.treasuryKey, "approve", c.redeemer.addr, amount); err != nil {
		return common.Hash{}, err
	}
	r, err := c.transact(ctx, c.redeemer, c.treasuryKey, "addRewards", amount)
	if err != nil {
		return common.Hash{}, err
	}
	return r.TxHash, nil
}

// ── Reward token ──────────────────────────────────────────────────────────────

// SignReward builds and signs a transfer of amount reward tokens from the
// treasury to to. Nothing is sent.
func (c *Client) SignReward(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	opts, err := c.transactOpts(ctx, c.treasuryKey)
	if err != nil {
		return nil, fmt.Errorf("build tx opts: %w", err)
	}
	opts.NoSend = true
	tx, err := c.token.bound.Transact(opts, "transfer", to, amount)
	if err != nil {
		return nil, decodeError(c.token.abi, "transfer", err)
	}
	return tx, nil
}

// SendTx broadcasts a signed transaction. A node that already has it is not
// an error.
func (c *Client) SendTx(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		if strings.Contains(err.Error(), "already known") {
			return nil
		}
		return fmt.Errorf("%w: send %s: %w", ledger.ErrTransport, tx.Hash().Hex(), err)
	}
	c.log.Debug("tx sent", zap.String("tx", tx.Hash().Hex()))
	return nil
}

// TxOutcome looks up tx's receipt. Without one, tx counts as dropped once the
// sender's confirmed nonce has moved past it. The nonce is read first so a
// receipt that lands between the two reads is still seen.
func (c *Client) TxOutcome(ctx context.Context, tx *types.Transaction) (payout.TxOutcome, error) {
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return payout.TxPending, fmt.Errorf("tx sender: %w", err)
	}
	nonce, err := c.eth.NonceAt(ctx, from, nil)
	if err != nil {
		return payout.TxPending, fmt.Errorf("%w: nonce: %w", ledger.ErrTransport, err)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, tx.Hash())
	switch {
	case errors.Is(err, ethereum.NotFound):
		if nonce > tx.Nonce() {
			return payout.TxDropped, nil
		}
		return payout.TxPending, nil
	case err != nil:
		return payout.TxPending, fmt.Errorf("%w: receipt %s: %w", ledger.ErrTransport, tx.Hash().Hex(), err)
	case receipt.Status == types.ReceiptStatusFailed:
		return payout.TxReverted, nil
	default:
		return payout.TxSucceeded, nil
	}
}

func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, c.token, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// ── ShadowBoxCore ─────────────────────────────────────────────────────────────

func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FilterEligibilityChecked returns the user's EligibilityChecked logs in [from, to].
func (c *Client) FilterEligibilityChecked(ctx context.Context, user common.Address, from, to uint64) ([]events.Submission, error) {
	ev := c.shadowBox.abi.Events["EligibilityChecked"]
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.shadowBox.addr},
		Topics:    [][]common.Hash{{ev.ID}, {common.BytesToHash(user.Bytes())}},
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]events.Submission, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		s, err := decodeEligibilityChecked(c.shadowBox.abi, l)
		if err != nil {
			c.log.Warn("skip undecodable EligibilityChecked log",
				zap.String("tx", l.TxHash.Hex()), zap.Error(err))
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func decodeEligibilityChecked(parsed *abi.ABI, l types.Log) (*events.Submission, error) {
	var body struct {
		EligibleCipher [32]byte
		Nonce          *big.Int
	}
	if err := parsed.UnpackIntoInterface(&body, "EligibilityChecked", l.Data); err != nil {
		return nil, err
	}
	if len(l.Topics) < 2 {
		return nil, errors.New("EligibilityChecked: missing user topic")
	}
	return &events.Submission{
		User:           common.BytesToAddress(l.Topics[1].Bytes()),
		EligibleCipher: body.EligibleCipher,
		Nonce:          body.Nonce.String(),
		TxHash:         l.TxHash,
		BlockNumber:    l.BlockNumber,
		LogIndex:       l.Index,
	}, nil
}

var handleGetters = map[events.HandleKind]string{
	events.HandleEligibility:  "getUserEligibility",
	events.HandleTier:         "getUserTier",
	events.HandleLootIndex:    "getUserLootIndex",
	events.HandleRewardAmount: "getUserRewardAmount",
}

func (c *Client) UserHandle(ctx context.Context, kind events.HandleKind, user common.Address) (common.Hash, error) {
	method, ok := handleGetters[kind]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown handle kind %d", kind)
	}
	out, err := c.call(ctx, c.shadowBox, method, user)
	if err != nil {
		return common.Hash{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// UserStatus mirrors ShadowBoxCore.getUserStatus.
type UserStatus struct {
	Submitted          bool     `json:"submitted"`
	LastSubmissionTime *big.Int `json:"lastSubmissionTime"`
	CanSubmitNow       bool     `json:"canSubmitNow"`
}

func (c *Client) UserStatus(ctx context.Context, user common.Address) (*UserStatus, error) {
	out, err := c.call(ctx, c.shadowBox, "getUserStatus", user)
	if err != nil {
		return nil, err
	}
	return &UserStatus{
		Submitted:          *abi.ConvertType(out[0], new(bool)).(*bool),
		LastSubmissionTime: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		CanSubmitNow:       *abi.ConvertType(out[2], new(bool)).(*bool),
	}, nil
}
