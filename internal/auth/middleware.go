package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Action binds the signature to one route; Payload carries the route's body.
type SignedRequest struct {
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	HeaderWallet    = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	// Context keys set on success.
	CtxWallet  = "wallet_address"
	CtxRequest = "signed_request"

	defaultMaxFutureWindow = 5 * time.Minute
	defaultNoncePrefix     = "shadowbox:auth:nonce:"
)

// Options tunes the middleware. Zero values fall back to defaults.
type Options struct {
	MaxFutureWindow time.Duration
	NoncePrefix     string
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxFutureWindow <= 0 {
		o.MaxFutureWindow = defaultMaxFutureWindow
	}
	if o.NoncePrefix == "" {
		o.NoncePrefix = defaultNoncePrefix
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Middleware returns a Gin handler that validates EIP-191 wallet signatures
// for the given action. A request signed for another action is rejected, so
// a withdraw signature cannot be replayed against an admin route.
func Middleware(rdb redis.Cmdable, action string, opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		walletAddr := c.GetHeader(HeaderWallet)
		signedMsgB64 := c.GetHeader(HeaderMessage)
		sigHex := c.GetHeader(HeaderSignature)

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		if !common.IsHexAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid wallet address"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "action mismatch"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := opts.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(opts.MaxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		recovered, err := Recover(msgBytes, sig)
		if err != nil || recovered != common.HexToAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonce dedup: the key lives until the request would have expired anyway.
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), opts.NoncePrefix+req.Nonce, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(CtxWallet, recovered)
		c.Set(CtxRequest, &req)
		c.Next()
	}
}

// Wallet returns the authenticated caller, or the zero address outside the middleware.
func Wallet(c *gin.Context) common.Address {
	v, ok := c.Get(CtxWallet)
	if !ok {
		return common.Address{}
	}
	addr, _ := v.(common.Address)
	return addr
}

// Request returns the verified signed request, or nil outside the middleware.
func Request(c *gin.Context) *SignedRequest {
	v, ok := c.Get(CtxRequest)
	if !ok {
		return nil
	}
	req, _ := v.(*SignedRequest)
	return req
}
