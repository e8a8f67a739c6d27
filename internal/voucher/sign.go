package voucher

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-shadowbox/internal/auth"
)

var ErrSigningUnavailable = errors.New("voucher signing key unavailable")

// SignHash signs the 32-byte voucher hash as an EIP-191 personal message,
// matching ethers' wallet.signMessage(getBytes(hash)).
func SignHash(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, ErrSigningUnavailable
	}
	return auth.Sign(hash.Bytes(), key)
}

// RecoverSigner returns the address that produced sig over hash.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	return auth.Recover(hash.Bytes(), sig)
}

// VerifyHash reports whether sig over hash was produced by expected.
// Malformed signatures and the zero authority never verify.
func VerifyHash(hash common.Hash, sig []byte, expected common.Address) bool {
	if expected == (common.Address{}) {
		return false
	}
	got, err := RecoverSigner(hash, sig)
	if err != nil {
		return false
	}
	return got == expected
}

// Verify checks a signed voucher against the expected authority.
func Verify(s *Signed, expected common.Address) bool {
	return VerifyHash(Hash(&s.Voucher), s.Signature, expected)
}

// Signer holds the authority key. The key never leaves the process.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	if key == nil {
		return &Signer{}
	}
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// LoadSigner parses a hex private key (with or without 0x). An empty string
// yields ErrSigningUnavailable.
func LoadSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrSigningUnavailable
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return NewSigner(key), nil
}

// Available reports whether key material is loaded.
func (s *Signer) Available() bool { return s != nil && s.key != nil }

func (s *Signer) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.addr
}

// Sign validates v and signs its hash.
func (s *Signer) Sign(v Voucher) (*Signed, error) {
	if !s.Available() {
		return nil, ErrSigningUnavailable
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	sig, err := SignHash(Hash(&v), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign voucher: %w", err)
	}
	return &Signed{Voucher: v, Signature: sig}, nil
}
