package voucher

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodedLen is the size of the abi.encode(address,uint256,uint256,uint256,uint256) layout.
const EncodedLen = 5 * 32

var ErrMalformedVoucher = errors.New("malformed voucher")

// Validate reports whether every field fits the on-chain tuple.
func (v *Voucher) Validate() error {
	if !v.RewardType.Valid() {
		return fmt.Errorf("%w: reward type %d", ErrMalformedVoucher, v.RewardType)
	}
	for _, f := range []struct {
		name string
		val  *big.Int
	}{
		{"amount", v.Amount},
		{"expiry", v.Expiry},
		{"voucherNonce", v.VoucherNonce},
	} {
		switch {
		case f.val == nil:
			return fmt.Errorf("%w: %s missing", ErrMalformedVoucher, f.name)
		case f.val.Sign() < 0:
			return fmt.Errorf("%w: %s negative", ErrMalformedVoucher, f.name)
		case f.val.BitLen() > 256:
			return fmt.Errorf("%w: %s exceeds uint256", ErrMalformedVoucher, f.name)
		}
	}
	return nil
}

// Encode lays the voucher out exactly as Solidity's abi.encode does for the
// Redeemer's Voucher struct. Each element occupies one 32-byte slot: the
// address right-aligned, integers big-endian left-padded. v must be valid.
func Encode(v *Voucher) []byte {
	encoded := make([]byte, EncodedLen)
	copy(encoded[12:32], v.User.Bytes())
	big.NewInt(int64(v.RewardType)).FillBytes(encoded[32:64])
	fill(encoded[64:96], v.Amount)
	fill(encoded[96:128], v.Expiry)
	fill(encoded[128:160], v.VoucherNonce)
	return encoded
}

// Hash is keccak256(Encode(v)), the voucher's replay identity.
func Hash(v *Voucher) common.Hash {
	return crypto.Keccak256Hash(Encode(v))
}

func fill(slot []byte, n *big.Int) {
	if n == nil {
		return
	}
	n.FillBytes(slot)
}
