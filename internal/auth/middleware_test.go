package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAction = "withdraw"

// testSetup creates a miniredis instance and a Gin engine with the auth
// middleware guarding POST /test for testAction.
func testSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", Middleware(rdb, testAction, Options{}), func(c *gin.Context) {
		req := Request(c)
		c.JSON(http.StatusOK, gin.H{
			"wallet":  Wallet(c).Hex(),
			"payload": string(req.Payload),
		})
	})
	return mr, r
}

type signedReq struct {
	action  string
	expires time.Duration
	nonce   string
	payload string
}

// buildRequest creates a signed HTTP request from a fresh key.
func buildRequest(t *testing.T, sr signedReq) (*http.Request, *ecdsa.PrivateKey) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return buildRequestWithKey(t, privKey, sr), privKey
}

func buildRequestWithKey(t *testing.T, privKey *ecdsa.PrivateKey, sr signedReq) *http.Request {
	t.Helper()
	if sr.action == "" {
		sr.action = testAction
	}
	if sr.payload == "" {
		sr.payload = `{}`
	}
	msg := SignedRequest{
		Action:    sr.action,
		ExpiresAt: time.Now().Add(sr.expires).Unix(),
		Nonce:     sr.nonce,
		Payload:   json.RawMessage(sr.payload),
	}
	msgBytes, _ := json.Marshal(msg)

	sig, err := Sign(msgBytes, privKey)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set(HeaderWallet, crypto.PubkeyToAddress(privKey.PublicKey).Hex())
	req.Header.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msgBytes))
	req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return req
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	return w, resp
}

func TestMiddleware_ValidRequest(t *testing.T) {
	_, r := testSetup(t)

	req, key := buildRequest(t, signedReq{expires: 2 * time.Minute, nonce: "n-valid-1", payload: `{"amount":"1"}`})
	w, resp := serve(r, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["wallet"] != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Errorf("wallet = %q", resp["wallet"])
	}
	if resp["payload"] != `{"amount":"1"}` {
		t.Errorf("payload = %q", resp["payload"])
	}
}

func TestMiddleware_LowercaseWalletHeader(t *testing.T) {
	_, r := testSetup(t)

	req, key := buildRequest(t, signedReq{expires: time.Minute, nonce: "n-lower-1"})
	lower := "0x" + hex.EncodeToString(crypto.PubkeyToAddress(key.PublicKey).Bytes())
	req.Header.Set(HeaderWallet, lower)
	if w, _ := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	_, r := testSetup(t)

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/test", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		sr      signedReq
		mutate  func(*http.Request)
		wantErr string
	}{
		{"expired", signedReq{expires: -time.Second, nonce: "n-exp"}, nil, "request expired"},
		{"too far in future", signedReq{expires: 10 * time.Minute, nonce: "n-fut"}, nil, "expires_at too far in future"},
		{"wrong action", signedReq{action: "set_signer", expires: time.Minute, nonce: "n-act"}, nil, "action mismatch"},
		{"empty nonce", signedReq{expires: time.Minute}, nil, "missing nonce"},
		{
			"wallet swapped", signedReq{expires: time.Minute, nonce: "n-swap"},
			func(r *http.Request) { r.Header.Set(HeaderWallet, "0x000000000000000000000000000000000000dEaD") },
			"invalid signature",
		},
		{
			"bad wallet", signedReq{expires: time.Minute, nonce: "n-badw"},
			func(r *http.Request) { r.Header.Set(HeaderWallet, "not-an-address") },
			"invalid wallet address",
		},
		{
			"bad signature hex", signedReq{expires: time.Minute, nonce: "n-hex"},
			func(r *http.Request) { r.Header.Set(HeaderSignature, "0xzz") },
			"invalid signature hex",
		},
		{
			"bad base64", signedReq{expires: time.Minute, nonce: "n-b64"},
			func(r *http.Request) { r.Header.Set(HeaderMessage, "%%%") },
			"invalid X-Signed-Message encoding",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := testSetup(t)
			req, _ := buildRequest(t, tc.sr)
			if tc.mutate != nil {
				tc.mutate(req)
			}
			w, resp := serve(r, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
			}
			if resp["error"] != tc.wantErr {
				t.Errorf("error = %q, want %q", resp["error"], tc.wantErr)
			}
		})
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	_, r := testSetup(t)

	req1, _ := buildRequest(t, signedReq{expires: 2 * time.Minute, nonce: "n-replay-1"})
	req2, _ := buildRequest(t, signedReq{expires: 2 * time.Minute, nonce: "n-replay-1"})

	if w, _ := serve(r, req1); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// different wallet, same nonce: still blocked
	w, resp := serve(r, req2)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "nonce already used" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceTTL(t *testing.T) {
	mr, r := testSetup(t)

	req, _ := buildRequest(t, signedReq{expires: 2 * time.Minute, nonce: "n-ttl-1"})
	if w, _ := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	key := defaultNoncePrefix + "n-ttl-1"
	if !mr.Exists(key) {
		t.Fatal("nonce key not stored")
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("nonce TTL = %v", ttl)
	}
	mr.FastForward(3 * time.Minute)
	if mr.Exists(key) {
		t.Error("nonce key outlived its TTL")
	}
}

func TestWallet_OutsideMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if Wallet(c) != (common.Address{}) {
		t.Error("expected zero wallet")
	}
	if Request(c) != nil {
		t.Error("expected nil request")
	}
}
