package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Issuance IssuanceConfig
	Rewards  RewardsConfig
	Chain    ChainConfig
	Payout   PayoutConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// ClaimRatePerSec and ClaimBurst bound claims per client IP.
	ClaimRatePerSec float64 `mapstructure:"claim_rate_per_sec"`
	ClaimBurst      int     `mapstructure:"claim_burst"`
	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

const (
	BackendRedis = "redis"
	BackendChain = "chain"
)

type LedgerConfig struct {
	// Backend is "redis" (local ledger) or "chain" (deployed Redeemer).
	Backend   string `mapstructure:"backend"`
	Owner     string `mapstructure:"owner"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type IssuanceConfig struct {
	SignerKey      string        `mapstructure:"signer_key"`
	VoucherTTL     time.Duration `mapstructure:"voucher_ttl"`
	NonceSource    string        `mapstructure:"nonce_source"`
	Attester       string        `mapstructure:"attester"`
	AttestationTTL time.Duration `mapstructure:"attestation_ttl"`
}

type RewardsConfig struct {
	Decimals uint8 `mapstructure:"decimals"`
	Bronze   int64 `mapstructure:"bronze"`
	Silver   int64 `mapstructure:"silver"`
	Gold     int64 `mapstructure:"gold"`
}

// Tiers returns whole-token amounts keyed by tier number.
func (r RewardsConfig) Tiers() map[int]int64 {
	return map[int]int64{0: r.Bronze, 1: r.Silver, 2: r.Gold}
}

type ChainConfig struct {
	RPCURL             string `mapstructure:"rpc_url"`
	ChainID            int64  `mapstructure:"chain_id"`
	RedeemerAddress    string `mapstructure:"redeemer_address"`
	ShadowBoxAddress   string `mapstructure:"shadowbox_address"`
	TokenAddress       string `mapstructure:"token_address"`
	TxPrivateKey       string `mapstructure:"tx_private_key"`
	TreasuryPrivateKey string `mapstructure:"treasury_private_key"`
	DeployBlock        uint64 `mapstructure:"deploy_block"`
	MaxBlockRange      uint64 `mapstructure:"max_block_range"`
}

// Enabled reports whether an RPC endpoint is configured.
func (c ChainConfig) Enabled() bool { return c.RPCURL != "" }

type PayoutConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	// ConfirmTimeout bounds one wait for a transfer receipt.
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"server.port":                "PORT",
	"server.claim_rate_per_sec":  "CLAIM_RATE_PER_SEC",
	"server.claim_burst":         "CLAIM_BURST",
	"server.trusted_proxies":     "TRUSTED_PROXIES",
	"redis.addr":                 "REDIS_ADDR",
	"redis.password":             "REDIS_PASSWORD",
	"ledger.backend":             "LEDGER_BACKEND",
	"ledger.owner":               "LEDGER_OWNER",
	"ledger.key_prefix":          "LEDGER_KEY_PREFIX",
	"issuance.signer_key":        "VOUCHER_SIGNER_PRIVATE_KEY",
	"issuance.voucher_ttl":       "VOUCHER_TTL",
	"issuance.nonce_source":      "VOUCHER_NONCE_SOURCE",
	"issuance.attester":          "TIER_ATTESTER_ADDRESS",
	"issuance.attestation_ttl":   "TIER_ATTESTATION_TTL",
	"rewards.decimals":           "REWARD_TOKEN_DECIMALS",
	"rewards.bronze":             "REWARD_BRONZE",
	"rewards.silver":             "REWARD_SILVER",
	"rewards.gold":               "REWARD_GOLD",
	"chain.rpc_url":              "RPC_URL",
	"chain.chain_id":             "CHAIN_ID",
	"chain.redeemer_address":     "REDEEMER_ADDRESS",
	"chain.shadowbox_address":    "SHADOWBOX_ADDRESS",
	"chain.token_address":        "REWARD_TOKEN_ADDRESS",
	"chain.tx_private_key":       "TX_PRIVATE_KEY",
	"chain.treasury_private_key": "TREASURY_PRIVATE_KEY",
	"chain.deploy_block":         "DEPLOY_BLOCK",
	"chain.max_block_range":      "MAX_BLOCK_RANGE",
	"payout.enabled":             "PAYOUT_ENABLED",
	"payout.max_attempts":        "PAYOUT_MAX_ATTEMPTS",
	"payout.retry_delay":         "PAYOUT_RETRY_DELAY",
	"payout.confirm_timeout":     "PAYOUT_CONFIRM_TIMEOUT",
	"log.level":                  "LOG_LEVEL",
	"log.file":                   "LOG_FILE",
	"log.max_size_mb":            "LOG_MAX_SIZE_MB",
	"log.max_backups":            "LOG_MAX_BACKUPS",
	"log.max_age_days":           "LOG_MAX_AGE_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.claim_rate_per_sec", 1.0)
	v.SetDefault("server.claim_burst", 5)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("ledger.backend", BackendRedis)
	v.SetDefault("ledger.key_prefix", "shadowbox:ledger:")
	v.SetDefault("issuance.voucher_ttl", 7*24*time.Hour)
	v.SetDefault("issuance.nonce_source", "random")
	v.SetDefault("issuance.attestation_ttl", 10*time.Minute)
	v.SetDefault("rewards.decimals", 18)
	v.SetDefault("rewards.bronze", 100)
	v.SetDefault("rewards.silver", 500)
	v.SetDefault("rewards.gold", 1000)
	v.SetDefault("chain.max_block_range", 10000)
	v.SetDefault("payout.max_attempts", 5)
	v.SetDefault("payout.retry_delay", 5*time.Second)
	v.SetDefault("payout.confirm_timeout", 2*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	required := []req{
		{c.Redis.Addr, "REDIS_ADDR"},
	}
	switch c.Ledger.Backend {
	case BackendRedis:
		required = append(required, req{c.Ledger.Owner, "LEDGER_OWNER"})
	case BackendChain:
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.RedeemerAddress, "REDEEMER_ADDRESS"},
			req{c.Chain.TxPrivateKey, "TX_PRIVATE_KEY"},
		)
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND %q (want %q or %q)", c.Ledger.Backend, BackendRedis, BackendChain)
	}
	if c.Payout.Enabled {
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.TokenAddress, "REWARD_TOKEN_ADDRESS"},
		)
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.Enabled() && c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}

	for _, a := range []req{
		{c.Ledger.Owner, "LEDGER_OWNER"},
		{c.Issuance.Attester, "TIER_ATTESTER_ADDRESS"},
		{c.Chain.RedeemerAddress, "REDEEMER_ADDRESS"},
		{c.Chain.ShadowBoxAddress, "SHADOWBOX_ADDRESS"},
		{c.Chain.TokenAddress, "REWARD_TOKEN_ADDRESS"},
	} {
		if a.val != "" && !common.IsHexAddress(a.val) {
			return fmt.Errorf("invalid address in %s: %q", a.name, a.val)
		}
	}
	switch c.Issuance.NonceSource {
	case "random", "counter":
	default:
		return fmt.Errorf("invalid VOUCHER_NONCE_SOURCE %q", c.Issuance.NonceSource)
	}
	if c.Issuance.VoucherTTL <= 0 {
		return fmt.Errorf("VOUCHER_TTL must be positive")
	}
	// The signing key is optional here: without it the claim endpoint
	// answers 500 rather than the process refusing to start.
	return nil
}
