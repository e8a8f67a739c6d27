package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/chain"
	"github.com/0gfoundation/0g-shadowbox/internal/config"
	"github.com/0gfoundation/0g-shadowbox/internal/payout"
)

func main() {
	rpc := flag.String("rpc", "https://evmrpc-testnet.0g.ai", "RPC endpoint")
	chainID := flag.Int64("chain-id", 16602, "Chain ID")
	redeemerHex := flag.String("redeemer", os.Getenv("REDEEMER_ADDRESS"), "Redeemer contract address")
	tokenHex := flag.String("token", os.Getenv("REWARD_TOKEN_ADDRESS"), "Reward token address")
	shadowBoxHex := flag.String("shadowbox", os.Getenv("SHADOWBOX_ADDRESS"), "ShadowBoxCore address")
	userHex := flag.String("user", "", "Account to inspect")
	voucherHash := flag.String("voucher-hash", "", "Voucher hash to look up on the Redeemer")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "Redis address for payout queue stats")
	flag.Parse()

	if !common.IsHexAddress(*userHex) {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}
	user := common.HexToAddress(*userHex)

	c, err := chain.NewClient(config.ChainConfig{
		RPCURL:           *rpc,
		ChainID:          *chainID,
		RedeemerAddress:  *redeemerHex,
		TokenAddress:     *tokenHex,
		ShadowBoxAddress: *shadowBoxHex,
	}, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *redeemerHex != "" {
		rewards, err := c.RewardBalance(ctx, user)
		fmt.Printf("rewards:   %s (err=%v)\n", rewards, err)
		st, err := c.State(ctx)
		fmt.Printf("redeemer:  owner=%s signer=%s paused=%t (err=%v)\n", st.Owner.Hex(), st.Signer.Hex(), st.Paused, err)
		if *voucherHash != "" {
			used, err := c.IsUsed(ctx, common.HexToHash(*voucherHash))
			fmt.Printf("voucher:   %s used=%t (err=%v)\n", *voucherHash, used, err)
		}
	}
	if *tokenHex != "" {
		bal, err := c.TokenBalance(ctx, user)
		fmt.Printf("token:     %s (err=%v)\n", bal, err)
	}
	if *redisAddr != "" {
		printPayouts(ctx, payout.NewQueue(redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})))
	}
	if *shadowBoxHex != "" {
		us, err := c.UserStatus(ctx, user)
		if err != nil {
			fmt.Printf("status:    err=%v\n", err)
			return
		}
		fmt.Printf("status:    submitted=%t last=%s canSubmit=%t\n", us.Submitted, us.LastSubmissionTime, us.CanSubmitNow)
	}
}

func printPayouts(ctx context.Context, q *payout.Queue) {
	n, err := q.Pending(ctx)
	fmt.Printf("payouts:   pending=%d (err=%v)\n", n, err)
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		fmt.Printf("dlq:       err=%v\n", err)
		return
	}
	fmt.Printf("dlq:       %d job(s)\n", len(dead))
	for _, j := range dead {
		fmt.Printf("  %s user=%s amount=%s attempts=%d tx=%s err=%q\n",
			j.ID, j.User.Hex(), j.Amount, j.Attempts, j.TxHash, j.LastError)
	}
}
