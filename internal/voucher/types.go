package voucher

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SchemaVersion tags the JSON wire form. It is not part of the hash.
const SchemaVersion = 1

// RewardType mirrors the Redeemer's reward category (same ordinal values).
type RewardType uint8

const (
	RewardToken RewardType = iota
	RewardNFT
	RewardVoucher
)

func (r RewardType) Valid() bool { return r <= RewardVoucher }

func (r RewardType) String() string {
	switch r {
	case RewardToken:
		return "token"
	case RewardNFT:
		return "nft"
	case RewardVoucher:
		return "voucher"
	default:
		return "unknown"
	}
}

// Voucher is the claim-check redeemed against the ledger. Its identity is
// Hash(v): two vouchers with equal fields are the same voucher.
type Voucher struct {
	User         common.Address
	RewardType   RewardType
	Amount       *big.Int
	Expiry       *big.Int // unix seconds
	VoucherNonce *big.Int
}

// Signed pairs a voucher with the authority's signature over its hash.
type Signed struct {
	Voucher
	Signature []byte
}

type wireVoucher struct {
	Version      int            `json:"version"`
	User         common.Address `json:"user"`
	RewardType   uint8          `json:"rewardType"`
	Amount       string         `json:"amount"`
	Expiry       string         `json:"expiry"`
	VoucherNonce string         `json:"voucherNonce"`
	Signature    hexutil.Bytes  `json:"signature,omitempty"`
}

func (v Voucher) wire() wireVoucher {
	return wireVoucher{
		Version:      SchemaVersion,
		User:         v.User,
		RewardType:   uint8(v.RewardType),
		Amount:       decString(v.Amount),
		Expiry:       decString(v.Expiry),
		VoucherNonce: decString(v.VoucherNonce),
	}
}

func (w wireVoucher) voucher() (Voucher, error) {
	if w.Version != SchemaVersion {
		return Voucher{}, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedVoucher, w.Version)
	}
	v := Voucher{User: w.User, RewardType: RewardType(w.RewardType)}
	var err error
	if v.Amount, err = parseUint(w.Amount, "amount"); err != nil {
		return Voucher{}, err
	}
	if v.Expiry, err = parseUint(w.Expiry, "expiry"); err != nil {
		return Voucher{}, err
	}
	if v.VoucherNonce, err = parseUint(w.VoucherNonce, "voucherNonce"); err != nil {
		return Voucher{}, err
	}
	return v, v.Validate()
}

// MarshalJSON encodes uint256 fields as decimal strings.
func (v Voucher) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.wire())
}

func (v *Voucher) UnmarshalJSON(b []byte) error {
	var w wireVoucher
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	dec, err := w.voucher()
	if err != nil {
		return err
	}
	*v = dec
	return nil
}

func (s Signed) MarshalJSON() ([]byte, error) {
	w := s.Voucher.wire()
	w.Signature = s.Signature
	return json.Marshal(w)
}

func (s *Signed) UnmarshalJSON(b []byte) error {
	var w wireVoucher
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := w.voucher()
	if err != nil {
		return err
	}
	s.Voucher = v
	s.Signature = w.Signature
	return nil
}

func decString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func parseUint(s, field string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", ErrMalformedVoucher, field)
	}
	return n, nil
}
