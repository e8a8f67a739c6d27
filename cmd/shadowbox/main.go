package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/api"
	"github.com/0gfoundation/0g-shadowbox/internal/auth"
	"github.com/0gfoundation/0g-shadowbox/internal/chain"
	"github.com/0gfoundation/0g-shadowbox/internal/config"
	"github.com/0gfoundation/0g-shadowbox/internal/events"
	"github.com/0gfoundation/0g-shadowbox/internal/issuance"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/logging"
	"github.com/0gfoundation/0g-shadowbox/internal/metrics"
	"github.com/0gfoundation/0g-shadowbox/internal/payout"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain client (optional for the redis ledger) ──────────────────────────
	var onchain *chain.Client
	if cfg.Chain.Enabled() {
		onchain, err = chain.NewClient(cfg.Chain, log)
		if err != nil {
			log.Fatal("chain client init failed", zap.Error(err))
		}
	}

	a, err := buildApp(ctx, cfg, rdb, onchain, log)
	if err != nil {
		log.Fatal("app init failed", zap.Error(err))
	}

	// ── Goroutines ────────────────────────────────────────────────────────────
	if a.worker != nil {
		go a.worker.Run(ctx)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("ledger", cfg.Ledger.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

type app struct {
	router  *gin.Engine
	ledger  *ledger.Ledger // nil with the chain backend
	worker  *payout.Worker // nil unless payouts are enabled
	metrics *metrics.Metrics
}

// buildApp wires every component from cfg. onchain may be nil when no RPC
// endpoint is configured.
func buildApp(ctx context.Context, cfg *config.Config, rdb *redis.Client, onchain *chain.Client, log *zap.Logger) (*app, error) {
	m := metrics.New()
	a := &app{metrics: m}

	// ── Signing authority ─────────────────────────────────────────────────────
	signer, err := voucher.LoadSigner(cfg.Issuance.SignerKey)
	if err != nil {
		log.Warn("voucher signer unavailable; claims will fail", zap.Error(err))
		signer = voucher.NewSigner(nil)
	} else {
		log.Info("voucher signer loaded", zap.String("address", signer.Address().Hex()))
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	queue := payout.NewQueue(rdb)
	deps := api.Deps{Obs: m}
	var redeemer issuance.Redeemer

	switch cfg.Ledger.Backend {
	case config.BackendChain:
		if onchain == nil {
			return nil, errors.New("chain ledger requires RPC_URL")
		}
		if signer.Available() {
			warnSignerMismatch(ctx, onchain, signer.Address(), log)
		}
		redeemer = onchain
		deps.Ledger = onchain
	default:
		store := ledger.NewRedisStore(rdb, cfg.Ledger.KeyPrefix)
		l := ledger.New(store, queue, log)
		if signer.Available() {
			if err := l.Init(ctx, common.HexToAddress(cfg.Ledger.Owner), signer.Address()); err != nil {
				return nil, fmt.Errorf("ledger init: %w", err)
			}
			warnSignerMismatch(ctx, l, signer.Address(), log)
		}
		a.ledger = l
		redeemer = l
		deps.Ledger = l
		deps.Admin = l
		deps.Auth = func(action string) gin.HandlerFunc {
			return auth.Middleware(rdb, action, auth.Options{})
		}
	}

	// ── Issuance ──────────────────────────────────────────────────────────────
	rewards, err := issuance.NewRewardTable(cfg.Rewards.Tiers(), cfg.Rewards.Decimals)
	if err != nil {
		return nil, err
	}
	icfg := issuance.Config{
		VoucherTTL: cfg.Issuance.VoucherTTL,
		Rewards:    rewards,
		Nonces:     issuance.RandomNonces{},
	}
	if cfg.Issuance.NonceSource == "counter" {
		icfg.Nonces = issuance.NewCounterNonces(rdb, issuance.DefaultNonceKey)
	}
	if cfg.Issuance.Attester != "" {
		icfg.Attestor = issuance.NewAttestor(common.HexToAddress(cfg.Issuance.Attester), cfg.Issuance.AttestationTTL)
	}
	deps.Claims = issuance.NewService(signer, redeemer, icfg, log).WithObserver(m)
	deps.Limiter = api.NewRateLimiter(cfg.Server.ClaimRatePerSec, cfg.Server.ClaimBurst)

	// ── Eligibility events ────────────────────────────────────────────────────
	if onchain != nil && cfg.Chain.ShadowBoxAddress != "" {
		deps.Eligibility = events.NewReader(onchain, events.ReaderConfig{
			StartBlock: cfg.Chain.DeployBlock,
			MaxRange:   cfg.Chain.MaxBlockRange,
		}, log)
	}

	// ── Payout worker ─────────────────────────────────────────────────────────
	if cfg.Payout.Enabled {
		if onchain == nil {
			return nil, errors.New("payouts require RPC_URL")
		}
		a.worker = payout.NewWorker(queue, onchain, payout.WorkerConfig{
			MaxAttempts:    cfg.Payout.MaxAttempts,
			RetryDelay:     cfg.Payout.RetryDelay,
			ConfirmTimeout: cfg.Payout.ConfirmTimeout,
		}, m, log)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	api.NewHandler(deps, log).Register(r.Group("/api"))
	a.router = r
	return a, nil
}

type stateReader interface {
	State(ctx context.Context) (ledger.State, error)
}

// warnSignerMismatch logs when the configured signing key is not the ledger's
// authority; every voucher it signs would fail InvalidSignature.
func warnSignerMismatch(ctx context.Context, l stateReader, signer common.Address, log *zap.Logger) {
	st, err := l.State(ctx)
	if err != nil {
		log.Warn("could not read ledger state to check signer", zap.Error(err))
		return
	}
	if st.Signer == signer {
		return
	}
	log.Warn("configured voucher signer is not the ledger authority; claims will fail until /api/admin/signer rotates it",
		zap.String("configured", signer.Hex()),
		zap.String("authority", st.Signer.Hex()),
	)
}
