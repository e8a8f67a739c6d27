package issuance

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-shadowbox/internal/auth"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
)

// ErrTierNotAttested wraps ledger.ErrUnauthorized.
var ErrTierNotAttested = fmt.Errorf("%w: tier not attested", ledger.ErrUnauthorized)

// Attestation is an attester's statement that user decrypted to tier at IssuedAt.
type Attestation struct {
	Tier      Tier          `json:"tier"`
	IssuedAt  int64         `json:"issuedAt"`
	Signature hexutil.Bytes `json:"signature"`
}

// AttestationHash is keccak256(abi.encode(address user, uint256 tier, uint256 issuedAt)).
func AttestationHash(user common.Address, tier Tier, issuedAt int64) common.Hash {
	buf := make([]byte, 96)
	copy(buf[12:32], user.Bytes())
	buf[63] = byte(tier)
	big.NewInt(issuedAt).FillBytes(buf[64:96])
	return crypto.Keccak256Hash(buf)
}

// SignAttestation is used by the attester and by tests.
func SignAttestation(key *ecdsa.PrivateKey, user common.Address, tier Tier, issuedAt time.Time) (*Attestation, error) {
	sig, err := auth.Sign(AttestationHash(user, tier, issuedAt.Unix()).Bytes(), key)
	if err != nil {
		return nil, err
	}
	return &Attestation{Tier: tier, IssuedAt: issuedAt.Unix(), Signature: sig}, nil
}

// Attestor checks tier attestations from one configured attester.
type Attestor struct {
	attester common.Address
	ttl      time.Duration
	now      func() time.Time
}

func NewAttestor(attester common.Address, ttl time.Duration) *Attestor {
	return &Attestor{attester: attester, ttl: ttl, now: time.Now}
}

// Check accepts a for user and tier if it is signed by the attester, not
// issued in the future and not older than the TTL.
func (a *Attestor) Check(user common.Address, tier Tier, att *Attestation) error {
	if att == nil {
		return fmt.Errorf("%w: missing attestation", ErrTierNotAttested)
	}
	if att.Tier != tier {
		return fmt.Errorf("%w: tier mismatch", ErrTierNotAttested)
	}
	issued := time.Unix(att.IssuedAt, 0)
	now := a.now()
	if issued.After(now.Add(time.Minute)) {
		return fmt.Errorf("%w: issued in the future", ErrTierNotAttested)
	}
	if a.ttl > 0 && now.Sub(issued) > a.ttl {
		return fmt.Errorf("%w: attestation expired", ErrTierNotAttested)
	}
	got, err := auth.Recover(AttestationHash(user, tier, att.IssuedAt).Bytes(), att.Signature)
	if err != nil || got != a.attester {
		return fmt.Errorf("%w: bad attester signature", ErrTierNotAttested)
	}
	return nil
}
