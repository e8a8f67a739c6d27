package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-shadowbox/internal/issuance"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

const keyEnv = "VOUCHER_SIGNER_PRIVATE_KEY"

var errInvalidSignature = errors.New("signature does not match signer")

func newRootCmd() *cobra.Command {
	var file string
	root := &cobra.Command{
		Use:           "voucherctl",
		Short:         "Offline voucher and attestation tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&file, "file", "f", "-", "Voucher JSON file (- for stdin)")

	root.AddCommand(
		newHashCmd(&file),
		newSignCmd(&file),
		newVerifyCmd(&file),
		newAttestCmd(),
	)
	return root
}

// newHashCmd prints the 160-byte encoding and the digest of a voucher.
func newHashCmd(file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the ABI encoding and keccak256 digest of a voucher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var v voucher.Voucher
			if err := readJSON(cmd, *file, &v); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"encoded": hexutil.Encode(voucher.Encode(&v)),
				"hash":    voucher.Hash(&v).Hex(),
			})
		},
	}
}

func newSignCmd(file *string) *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a voucher with the authority key",
		Long: `Sign a voucher with the authority key.

The key is read from --key or $` + keyEnv + `. The voucher may carry any
expiry and nonce; defaults are not filled in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var v voucher.Voucher
			if err := readJSON(cmd, *file, &v); err != nil {
				return err
			}
			signer, err := voucher.LoadSigner(keyOrEnv(keyHex))
			if err != nil {
				return err
			}
			s, err := signer.Sign(v)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "Signer private key hex (default $"+keyEnv+")")
	return cmd
}

func newVerifyCmd(file *string) *cobra.Command {
	var signerHex string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed voucher against an authority address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(signerHex) {
				return fmt.Errorf("invalid --signer %q", signerHex)
			}
			var s voucher.Signed
			if err := readJSON(cmd, *file, &s); err != nil {
				return err
			}
			expected := common.HexToAddress(signerHex)
			recovered, _ := voucher.RecoverSigner(voucher.Hash(&s.Voucher), s.Signature)
			ok := voucher.Verify(&s, expected)
			if err := writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"valid":     ok,
				"hash":      voucher.Hash(&s.Voucher).Hex(),
				"recovered": recovered.Hex(),
			}); err != nil {
				return err
			}
			if !ok {
				return errInvalidSignature
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&signerHex, "signer", "", "Expected authority address")
	_ = cmd.MarkFlagRequired("signer")
	return cmd
}

func newAttestCmd() *cobra.Command {
	var (
		keyHex  string
		userHex string
		tier    uint8
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign a tier attestation for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(userHex) {
				return fmt.Errorf("invalid --user %q", userHex)
			}
			if tier > uint8(issuance.TierGold) {
				return fmt.Errorf("invalid --tier %d", tier)
			}
			key, err := crypto.HexToECDSA(trim0x(keyOrEnv(keyHex)))
			if err != nil {
				return fmt.Errorf("parse key: %w", err)
			}
			att, err := issuance.SignAttestation(key, common.HexToAddress(userHex), issuance.Tier(tier), time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), att)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "Attester private key hex (default $"+keyEnv+")")
	cmd.Flags().StringVar(&userHex, "user", "", "User address")
	cmd.Flags().Uint8Var(&tier, "tier", 0, "Tier: 0 bronze, 1 silver, 2 gold")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func readJSON(cmd *cobra.Command, file string, dst interface{}) error {
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("decode voucher: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keyOrEnv(k string) string {
	if k != "" {
		return k
	}
	return os.Getenv(keyEnv)
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
