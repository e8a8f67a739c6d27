// cmd/setup performs the on-chain setup of a deployed Redeemer:
//
//  1. setSigner: points the Redeemer at the voucher signing authority
//  2. addRewards: approves and deposits reward tokens from the treasury
//  3. setPaused: optionally pauses or unpauses redemption
//
// setSigner and setPaused are sent from TX_PRIVATE_KEY, which must be the
// Redeemer owner. addRewards is sent from TREASURY_PRIVATE_KEY (falls back
// to TX_PRIVATE_KEY).
//
// Usage:
//
//	TX_PRIVATE_KEY=0x<owner key> \
//	go run ./cmd/setup/ \
//	  --rpc      https://evmrpc-testnet.0g.ai \
//	  --chain-id 16602 \
//	  --redeemer 0x... \
//	  --token    0x... \
//	  --signer   0x... \
//	  --fund     100000
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/chain"
	"github.com/0gfoundation/0g-shadowbox/internal/config"
)

func main() {
	rpc := flag.String("rpc", "https://evmrpc-testnet.0g.ai", "RPC endpoint")
	chainID := flag.Int64("chain-id", 16602, "Chain ID")
	redeemerHex := flag.String("redeemer", "", "Redeemer contract address")
	tokenHex := flag.String("token", "", "Reward token address (required with --fund)")
	signerHex := flag.String("signer", "", "Voucher signing authority to install")
	fund := flag.Float64("fund", 0, "Whole reward tokens to deposit into the Redeemer")
	paused := flag.String("paused", "", "Set paused state: true or false (empty leaves it)")
	flag.Parse()

	if !common.IsHexAddress(*redeemerHex) {
		fatalf("--redeemer is required")
	}
	if *fund > 0 && !common.IsHexAddress(*tokenHex) {
		fatalf("--token is required with --fund")
	}
	if os.Getenv("TX_PRIVATE_KEY") == "" {
		fatalf("TX_PRIVATE_KEY not set")
	}

	c, err := chain.NewClient(config.ChainConfig{
		RPCURL:             *rpc,
		ChainID:            *chainID,
		RedeemerAddress:    *redeemerHex,
		TokenAddress:       *tokenHex,
		TxPrivateKey:       os.Getenv("TX_PRIVATE_KEY"),
		TreasuryPrivateKey: os.Getenv("TREASURY_PRIVATE_KEY"),
	}, zap.NewNop())
	if err != nil {
		fatalf("chain client: %v", err)
	}
	fmt.Printf("account:  %s\n", c.TxAddress().Hex())
	fmt.Printf("redeemer: %s\n", c.RedeemerAddress().Hex())
	fmt.Printf("rpc:      %s\n", *rpc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// ── 1. setSigner ──────────────────────────────────────────────────────────
	if *signerHex != "" {
		if !common.IsHexAddress(*signerHex) {
			fatalf("invalid --signer %q", *signerHex)
		}
		fmt.Printf("\n[1/3] setSigner %s...\n", *signerHex)
		tx, err := c.SetSigner(ctx, common.HexToAddress(*signerHex))
		if err != nil {
			fatalf("setSigner: %v", err)
		}
		fmt.Printf("      tx: %s\n      confirmed ✓\n", tx.Hex())
	}

	// ── 2. addRewards ─────────────────────────────────────────────────────────
	if *fund > 0 {
		decimals, err := c.TokenDecimals(ctx)
		if err != nil {
			fatalf("token decimals: %v", err)
		}
		amount := toUnits(*fund, decimals)
		fmt.Printf("\n[2/3] addRewards %s units...\n", amount)
		tx, err := c.AddRewards(ctx, amount)
		if err != nil {
			fatalf("addRewards: %v", err)
		}
		fmt.Printf("      tx: %s\n      confirmed ✓\n", tx.Hex())
	}

	// ── 3. setPaused ──────────────────────────────────────────────────────────
	if *paused != "" {
		p, err := strconv.ParseBool(*paused)
		if err != nil {
			fatalf("invalid --paused %q", *paused)
		}
		fmt.Printf("\n[3/3] setPaused %t...\n", p)
		tx, err := c.SetPaused(ctx, p)
		if err != nil {
			fatalf("setPaused: %v", err)
		}
		fmt.Printf("      tx: %s\n      confirmed ✓\n", tx.Hex())
	}

	// ── Summary ───────────────────────────────────────────────────────────────
	st, err := c.State(ctx)
	if err != nil {
		fatalf("read state: %v", err)
	}
	fmt.Printf("\nSetup complete!\n")
	fmt.Printf("  owner:  %s\n", st.Owner.Hex())
	fmt.Printf("  signer: %s\n", st.Signer.Hex())
	fmt.Printf("  paused: %t\n", st.Paused)
}

// toUnits converts whole tokens to the token's smallest unit using integer
// arithmetic after scaling.
func toUnits(whole float64, decimals uint8) *big.Int {
	w := new(big.Float).SetFloat64(whole)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	units, _ := new(big.Float).Mul(w, scale).Int(nil)
	return units
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
