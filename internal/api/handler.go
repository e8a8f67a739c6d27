// Package api exposes the claim, ledger and eligibility endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/auth"
	"github.com/0gfoundation/0g-shadowbox/internal/events"
	"github.com/0gfoundation/0g-shadowbox/internal/issuance"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

// Signed-request actions accepted by the authenticated routes.
const (
	ActionWithdraw  = "withdraw"
	ActionSetSigner = "set_signer"
	ActionSetPaused = "set_paused"
)

const defaultRecordLimit = 50

// Claimer issues and redeems a voucher for a claim request.
type Claimer interface {
	Claim(ctx context.Context, req issuance.Request) (*issuance.Claim, error)
}

// LedgerReader is the read side shared by the local ledger and the chain client.
type LedgerReader interface {
	RewardBalance(ctx context.Context, user common.Address) (*big.Int, error)
	CheckVoucher(ctx context.Context, v voucher.Voucher) (ledger.VoucherStatus, error)
	State(ctx context.Context) (ledger.State, error)
}

// LedgerAdmin is implemented by *ledger.Ledger only. When it is nil the
// withdraw, admin and records routes are not registered.
type LedgerAdmin interface {
	Withdraw(ctx context.Context, user common.Address) (*ledger.Payout, error)
	SetSigner(ctx context.Context, caller, signer common.Address) error
	SetPaused(ctx context.Context, caller common.Address, paused bool) error
	Records(ctx context.Context, limit int) ([]ledger.Record, error)
}

// Eligibility reads EligibilityChecked submissions and ciphertext handles.
type Eligibility interface {
	Submissions(ctx context.Context, q events.Query) ([]events.Submission, error)
	FindSubmission(ctx context.Context, user common.Address, fromBlock uint64, txHash common.Hash) (*events.Submission, error)
	Handles(ctx context.Context, user common.Address) (*events.Handles, error)
}

// Observer receives per-request outcomes; metrics.Metrics implements it.
type Observer interface {
	ObserveRedeem(outcome string)
	ObserveWithdraw(outcome string)
	ObserveRequest(route, code string)
}

type Deps struct {
	Claims      Claimer
	Ledger      LedgerReader
	Admin       LedgerAdmin
	Eligibility Eligibility
	// Auth builds the signed-request middleware for an action. Required
	// when Admin is set.
	Auth    func(action string) gin.HandlerFunc
	Limiter *RateLimiter
	Obs     Observer
}

type Handler struct {
	deps Deps
	log  *zap.Logger
}

func NewHandler(deps Deps, log *zap.Logger) *Handler {
	return &Handler{deps: deps, log: log}
}

// Register mounts all routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.Use(h.observeRequests())

	claim := []gin.HandlerFunc{}
	if h.deps.Limiter != nil {
		claim = append(claim, h.deps.Limiter.Middleware())
	}
	rg.POST("/claim", append(claim, h.handleClaim)...)
	rg.GET("/rewards/:user", h.handleRewards)
	rg.POST("/voucher/check", h.handleCheckVoucher)
	rg.GET("/ledger", h.handleLedgerState)

	if h.deps.Eligibility != nil {
		rg.GET("/eligibility/:user", h.handleEligibility)
		rg.GET("/eligibility/:user/handles", h.handleHandles)
	}

	if h.deps.Admin != nil && h.deps.Auth != nil {
		rg.GET("/ledger/records", h.handleRecords)
		rg.POST("/withdraw", h.deps.Auth(ActionWithdraw), h.handleWithdraw)
		rg.POST("/admin/signer", h.deps.Auth(ActionSetSigner), h.handleSetSigner)
		rg.POST("/admin/paused", h.deps.Auth(ActionSetPaused), h.handleSetPaused)
	}
}

func (h *Handler) observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if h.deps.Obs == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.deps.Obs.ObserveRequest(route, strconv.Itoa(c.Writer.Status()))
	}
}

// ── Claim ─────────────────────────────────────────────────────────────────────

type claimRequest struct {
	User        string                `json:"user"`
	Tier        *int                  `json:"tier"`
	Attestation *issuance.Attestation `json:"attestation"`
}

type claimResponse struct {
	OK             bool            `json:"ok"`
	AlreadyApplied bool            `json:"alreadyApplied,omitempty"`
	TxRef          string          `json:"transactionReference,omitempty"`
	RewardBalance  string          `json:"rewardBalance,omitempty"`
	Amount         string          `json:"amount,omitempty"`
	VoucherHash    string          `json:"voucherHash,omitempty"`
	Voucher        *voucher.Signed `json:"voucher,omitempty"`
}

func (h *Handler) handleClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	tier := issuance.TierBronze
	if req.Tier != nil {
		if *req.Tier < int(issuance.TierBronze) || *req.Tier > int(issuance.TierGold) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be 0, 1 or 2"})
			return
		}
		tier = issuance.Tier(*req.Tier)
	}

	claim, err := h.deps.Claims.Claim(c.Request.Context(), issuance.Request{
		User:        user,
		Tier:        tier,
		Attestation: req.Attestation,
	})
	if errors.Is(err, ledger.ErrVoucherAlreadyUsed) {
		h.observeRedeem("already_applied")
		resp := claimResponse{OK: true, AlreadyApplied: true}
		if bal, berr := h.deps.Ledger.RewardBalance(c.Request.Context(), user); berr == nil {
			resp.RewardBalance = bal.String()
		} else {
			h.log.Warn("balance read after replayed claim failed", zap.String("user", user.Hex()), zap.Error(berr))
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if err != nil {
		h.observeRedeem(ledger.Classify(err).String())
		h.fail(c, err)
		return
	}
	h.observeRedeem("applied")

	resp := claimResponse{
		OK:          true,
		TxRef:       claim.TxRef,
		VoucherHash: claim.VoucherHash.Hex(),
		Voucher:     &claim.Voucher,
	}
	if claim.Balance != nil {
		resp.RewardBalance = claim.Balance.String()
	}
	if claim.Amount != nil {
		resp.Amount = claim.Amount.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) observeRedeem(outcome string) {
	if h.deps.Obs != nil {
		h.deps.Obs.ObserveRedeem(outcome)
	}
}

// ── Ledger views ──────────────────────────────────────────────────────────────

func (h *Handler) handleRewards(c *gin.Context) {
	user, ok := parseAddress(c.Param("user"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	bal, err := h.deps.Ledger.RewardBalance(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Hex(), "rewardBalance": bal.String()})
}

func (h *Handler) handleCheckVoucher(c *gin.Context) {
	var v voucher.Voucher
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher"})
		return
	}
	if err := v.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := h.deps.Ledger.CheckVoucher(c.Request.Context(), v)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"isValid":     status.Valid,
		"isUsed":      status.Used,
		"voucherHash": voucher.Hash(&v).Hex(),
	})
}

func (h *Handler) handleLedgerState(c *gin.Context) {
	st, err := h.deps.Ledger.State(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) handleRecords(c *gin.Context) {
	limit := defaultRecordLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := h.deps.Admin.Records(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ── Eligibility ───────────────────────────────────────────────────────────────

func (h *Handler) handleEligibility(c *gin.Context) {
	user, ok := parseAddress(c.Param("user"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	q := events.Query{User: user}
	if s := c.Query("fromBlock"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fromBlock"})
			return
		}
		q.FromBlock = n
	}

	if s := c.Query("tx"); s != "" {
		b := common.FromHex(s)
		if len(b) != common.HashLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tx hash"})
			return
		}
		sub, err := h.deps.Eligibility.FindSubmission(c.Request.Context(), user, q.FromBlock, common.BytesToHash(b))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user.Hex(), "submissions": []events.Submission{*sub}})
		return
	}

	subs, err := h.deps.Eligibility.Submissions(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Hex(), "submissions": subs})
}

func (h *Handler) handleHandles(c *gin.Context) {
	user, ok := parseAddress(c.Param("user"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	handles, err := h.deps.Eligibility.Handles(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handles)
}

// ── Signed routes ─────────────────────────────────────────────────────────────

func (h *Handler) handleWithdraw(c *gin.Context) {
	user := auth.Wallet(c)
	p, err := h.deps.Admin.Withdraw(c.Request.Context(), user)
	if err != nil {
		h.observeWithdraw(ledger.Classify(err).String())
		h.fail(c, err)
		return
	}
	h.observeWithdraw("ok")
	c.JSON(http.StatusOK, gin.H{
		"user":      p.User.Hex(),
		"amount":    p.Amount.String(),
		"reference": p.Reference,
		"recordId":  p.RecordID,
	})
}

func (h *Handler) observeWithdraw(outcome string) {
	if h.deps.Obs != nil {
		h.deps.Obs.ObserveWithdraw(outcome)
	}
}

type setSignerPayload struct {
	Signer string `json:"signer"`
}

func (h *Handler) handleSetSigner(c *gin.Context) {
	var p setSignerPayload
	if !bindPayload(c, &p) {
		return
	}
	signer, ok := parseAddress(p.Signer)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signer address"})
		return
	}
	if err := h.deps.Admin.SetSigner(c.Request.Context(), auth.Wallet(c), signer); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("signer updated via api", zap.String("signer", signer.Hex()))
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex()})
}

type setPausedPayload struct {
	Paused *bool `json:"paused"`
}

func (h *Handler) handleSetPaused(c *gin.Context) {
	var p setPausedPayload
	if !bindPayload(c, &p) {
		return
	}
	if p.Paused == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing paused"})
		return
	}
	if err := h.deps.Admin.SetPaused(c.Request.Context(), auth.Wallet(c), *p.Paused); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("paused updated via api", zap.Bool("paused", *p.Paused))
	c.JSON(http.StatusOK, gin.H{"paused": *p.Paused})
}

// bindPayload decodes the signed message payload, so parameters are covered
// by the wallet signature rather than taken from the request body.
func bindPayload(c *gin.Context, dst interface{}) bool {
	req := auth.Request(c)
	if req == nil || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payload"})
		return false
	}
	if err := json.Unmarshal(req.Payload, dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

func parseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	return addr, addr != (common.Address{})
}
