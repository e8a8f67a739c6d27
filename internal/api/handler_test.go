package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/auth"
	"github.com/0gfoundation/0g-shadowbox/internal/events"
	"github.com/0gfoundation/0g-shadowbox/internal/issuance"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const signerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testUser = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

type fakePayer struct {
	mu   sync.Mutex
	paid map[common.Address]*big.Int
}

func (p *fakePayer) Pay(_ context.Context, user common.Address, amount *big.Int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paid == nil {
		p.paid = make(map[common.Address]*big.Int)
	}
	p.paid[user] = amount
	return "job-1", nil
}

type recordingObserver struct {
	mu       sync.Mutex
	redeems  []string
	requests []string
}

func (o *recordingObserver) ObserveRedeem(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.redeems = append(o.redeems, outcome)
}

func (o *recordingObserver) ObserveWithdraw(string) {}

func (o *recordingObserver) ObserveRequest(route, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, route+" "+code)
}

type fixture struct {
	router *gin.Engine
	ledger *ledger.Ledger
	payer  *fakePayer
	owner  *ecdsa.PrivateKey
	obs    *recordingObserver
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	signer, err := voucher.LoadSigner(signerKeyHex)
	require.NoError(t, err)
	owner, err := crypto.GenerateKey()
	require.NoError(t, err)

	payer := &fakePayer{}
	l := ledger.New(ledger.NewMemStore(), payer, zap.NewNop())
	require.NoError(t, l.Init(context.Background(), crypto.PubkeyToAddress(owner.PublicKey), signer.Address()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	obs := &recordingObserver{}
	deps := Deps{
		Claims: issuance.NewService(signer, l, issuance.Config{}, zap.NewNop()),
		Ledger: l,
		Admin:  l,
		Auth: func(action string) gin.HandlerFunc {
			return auth.Middleware(rdb, action, auth.Options{})
		},
		Obs: obs,
	}
	if mutate != nil {
		mutate(&deps)
	}

	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	NewHandler(deps, zap.NewNop()).Register(r.Group("/api"))
	return &fixture{router: r, ledger: l, payer: payer, owner: owner, obs: obs}
}

func (f *fixture) do(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	return w, body
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, path, action string, payload interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(auth.SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Nonce:     uuid.NewString(),
		Payload:   raw,
	})
	require.NoError(t, err)
	sig, err := auth.Sign(msg, key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(auth.HeaderWallet, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(auth.HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	req.Header.Set(auth.HeaderSignature, "0x"+hex.EncodeToString(sig))
	return req
}

func tokens(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)).String()
}

// ── Claim ─────────────────────────────────────────────────────────────────────

func TestClaim_CreditsTierReward(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 2}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, tokens(1000), body["amount"])
	assert.Equal(t, tokens(1000), body["rewardBalance"])
	assert.NotEmpty(t, body["transactionReference"])
	assert.NotEmpty(t, body["voucherHash"])

	w, body = f.do(httptest.NewRequest(http.MethodGet, "/api/rewards/"+testUser.Hex(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tokens(1000), body["rewardBalance"])
	assert.Contains(t, f.obs.redeems, "applied")
	assert.Contains(t, f.obs.requests, "/api/claim 200")
	assert.Contains(t, f.obs.requests, "/api/rewards/:user 200")
}

func TestClaim_MissingTierIsBronze(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex()}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tokens(100), body["amount"])
}

func TestClaim_BadInput(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]interface{}{
		"missing user": gin.H{"tier": 1},
		"bad user":     gin.H{"user": "0x1234", "tier": 1},
		"zero user":    gin.H{"user": common.Address{}.Hex(), "tier": 1},
		"tier too big": gin.H{"user": testUser.Hex(), "tier": 3},
		"negative":     gin.H{"user": testUser.Hex(), "tier": -1},
		"not json":     "nope",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w, _ := f.do(jsonRequest(http.MethodPost, "/api/claim", body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestClaim_SignerUnavailable(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Claims = issuance.NewService(voucher.NewSigner(nil), d.Admin.(*ledger.Ledger), issuance.Config{}, zap.NewNop())
	})
	w, body := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 0}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server misconfigured", body["error"])
}

func TestClaim_Paused(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.SetPaused(context.Background(), crypto.PubkeyToAddress(f.owner.PublicKey), true))

	w, _ := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 1}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// replayClaimer applies the claim, then reports the voucher as already used,
// as a retried request would see it.
type replayClaimer struct{ inner Claimer }

func (r replayClaimer) Claim(ctx context.Context, req issuance.Request) (*issuance.Claim, error) {
	if _, err := r.inner.Claim(ctx, req); err != nil {
		return nil, err
	}
	return nil, ledger.ErrVoucherAlreadyUsed
}

func TestClaim_ReplayIsAlreadyAppliedWithBalance(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Claims = replayClaimer{inner: d.Claims} })
	w, body := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 1}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["alreadyApplied"])
	assert.Equal(t, tokens(500), body["rewardBalance"])
	assert.Equal(t, []string{"already_applied"}, f.obs.redeems)
}

func TestClaim_RateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Limiter = NewRateLimiter(0.001, 1) })
	req := func(spoofed string) *http.Request {
		r := jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex()})
		r.Header.Set("X-Real-IP", spoofed)
		return r
	}
	w, _ := f.do(req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(req("10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

// ── Ledger views ──────────────────────────────────────────────────────────────

func TestCheckVoucher_AfterClaim(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 1}))
	require.Equal(t, http.StatusOK, w.Code)

	w, check := f.do(jsonRequest(http.MethodPost, "/api/voucher/check", body["voucher"]))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, check["isUsed"])
	assert.Equal(t, false, check["isValid"])
	assert.Equal(t, body["voucherHash"], check["voucherHash"])
}

func TestCheckVoucher_Malformed(t *testing.T) {
	f := newFixture(t, nil)
	w, _ := f.do(jsonRequest(http.MethodPost, "/api/voucher/check", gin.H{"version": 9}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRewards_InvalidAddress(t *testing.T) {
	f := newFixture(t, nil)
	w, _ := f.do(httptest.NewRequest(http.MethodGet, "/api/rewards/bob", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerStateAndRecords(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.do(httptest.NewRequest(http.MethodGet, "/api/ledger", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["paused"])
	assert.Equal(t, crypto.PubkeyToAddress(f.owner.PublicKey).Hex(), body["owner"])

	f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 0}))
	w, body = f.do(httptest.NewRequest(http.MethodGet, "/api/ledger/records?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	records := body["records"].([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, string(ledger.KindVoucherRedeemed), records[0].(map[string]interface{})["kind"])

	w, _ = f.do(httptest.NewRequest(http.MethodGet, "/api/ledger/records?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── Signed routes ─────────────────────────────────────────────────────────────

func TestWithdraw_Signed(t *testing.T) {
	f := newFixture(t, nil)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)

	w, _ := f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": user.Hex(), "tier": 1}))
	require.Equal(t, http.StatusOK, w.Code)

	w, body := f.do(signedRequest(t, key, "/api/withdraw", ActionWithdraw, gin.H{}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, tokens(500), body["amount"])
	assert.Equal(t, "job-1", body["reference"])
	assert.Equal(t, tokens(500), f.payer.paid[user].String())

	w, _ = f.do(signedRequest(t, key, "/api/withdraw", ActionWithdraw, gin.H{}))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWithdraw_RequiresSignature(t *testing.T) {
	f := newFixture(t, nil)
	w, _ := f.do(httptest.NewRequest(http.MethodPost, "/api/withdraw", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	key, _ := crypto.GenerateKey()
	w, _ = f.do(signedRequest(t, key, "/api/withdraw", ActionSetPaused, gin.H{}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_OwnerOnly(t *testing.T) {
	f := newFixture(t, nil)
	stranger, _ := crypto.GenerateKey()

	w, _ := f.do(signedRequest(t, stranger, "/api/admin/paused", ActionSetPaused, gin.H{"paused": true}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(signedRequest(t, f.owner, "/api/admin/paused", ActionSetPaused, gin.H{"paused": true}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["paused"])
	st, err := f.ledger.State(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Paused)
}

func TestAdmin_SetSigner(t *testing.T) {
	f := newFixture(t, nil)
	next := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	w, _ := f.do(signedRequest(t, f.owner, "/api/admin/signer", ActionSetSigner, gin.H{"signer": "nope"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(signedRequest(t, f.owner, "/api/admin/signer", ActionSetSigner, gin.H{"signer": next.Hex()}))
	require.Equal(t, http.StatusOK, w.Code)
	st, err := f.ledger.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next, st.Signer)

	// Vouchers from the old signer no longer verify.
	w, _ = f.do(jsonRequest(http.MethodPost, "/api/claim", gin.H{"user": testUser.Hex(), "tier": 1}))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_MissingPaused(t *testing.T) {
	f := newFixture(t, nil)
	w, _ := f.do(signedRequest(t, f.owner, "/api/admin/paused", ActionSetPaused, gin.H{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadOnlyDeps_NoAdminRoutes(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Admin = nil })
	w, _ := f.do(httptest.NewRequest(http.MethodPost, "/api/withdraw", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ── Eligibility ───────────────────────────────────────────────────────────────

type fakeEligibility struct {
	subs    []events.Submission
	err     error
	lastQ   events.Query
	handles *events.Handles
}

func (e *fakeEligibility) Submissions(_ context.Context, q events.Query) ([]events.Submission, error) {
	e.lastQ = q
	if e.err != nil {
		return nil, e.err
	}
	if q.TxHash == nil {
		return e.subs, nil
	}
	var out []events.Submission
	for _, s := range e.subs {
		if s.TxHash == *q.TxHash {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *fakeEligibility) FindSubmission(ctx context.Context, user common.Address, fromBlock uint64, tx common.Hash) (*events.Submission, error) {
	subs, err := e.Submissions(ctx, events.Query{User: user, FromBlock: fromBlock, TxHash: &tx})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: tx %s", events.ErrSubmissionNotFound, tx.Hex())
	}
	return &subs[len(subs)-1], nil
}

func (e *fakeEligibility) Handles(context.Context, common.Address) (*events.Handles, error) {
	return e.handles, e.err
}

func TestEligibility(t *testing.T) {
	tx := common.HexToHash("0xabc")
	el := &fakeEligibility{
		subs:    []events.Submission{{User: testUser, TxHash: tx, BlockNumber: 12}},
		handles: &events.Handles{Tier: common.HexToHash("0x01")},
	}
	f := newFixture(t, func(d *Deps) { d.Eligibility = el })
	base := "/api/eligibility/" + testUser.Hex()

	w, body := f.do(httptest.NewRequest(http.MethodGet, base+"?fromBlock=10&tx="+tx.Hex(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["submissions"], 1)
	assert.Equal(t, uint64(10), el.lastQ.FromBlock)

	w, body = f.do(httptest.NewRequest(http.MethodGet, base+"?tx="+common.HexToHash("0xdef").Hex(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "submission not found", body["error"])

	w, _ = f.do(httptest.NewRequest(http.MethodGet, base+"?fromBlock=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(httptest.NewRequest(http.MethodGet, base+"?tx=0x12", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(httptest.NewRequest(http.MethodGet, base+"/handles", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, common.HexToHash("0x01").Hex(), body["tier"])

	el.err = events.ErrTransport
	w, _ = f.do(httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
