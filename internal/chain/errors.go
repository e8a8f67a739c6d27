package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
)

// ErrReverted is returned for reverts with no known custom error.
var ErrReverted = errors.New("execution reverted")

// revertSentinels maps Redeemer custom errors to ledger errors.
var revertSentinels = map[string]error{
	"ContractPaused":             ledger.ErrContractPaused,
	"VoucherExpired":             ledger.ErrVoucherExpired,
	"VoucherAlreadyUsed":         ledger.ErrVoucherAlreadyUsed,
	"InvalidSignature":           ledger.ErrInvalidSignature,
	"InsufficientRewards":        ledger.ErrInsufficientRewards,
	"InvalidSigner":              ledger.ErrInvalidAuthority,
	"OwnableUnauthorizedAccount": ledger.ErrUnauthorized,
}

// decodeError turns an RPC error from a call or transaction into a ledger
// sentinel when the revert names a known custom error. Other reverts wrap
// ErrReverted; everything else is a transport failure.
func decodeError(parsed *abi.ABI, op string, err error) error {
	if err == nil {
		return nil
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := revertData(de.ErrorData()); ok {
			if name, ok := matchSelector(parsed, data); ok {
				if sentinel, known := revertSentinels[name]; known {
					return fmt.Errorf("%s: %w", op, sentinel)
				}
				return fmt.Errorf("%s: %w: %s", op, ErrReverted, name)
			}
			if reason, uerr := abi.UnpackRevert(data); uerr == nil {
				return fmt.Errorf("%s: %w: %s", op, ErrReverted, reason)
			}
		}
	}
	// Some providers only return the decoded name in the message.
	msg := err.Error()
	for name, sentinel := range revertSentinels {
		if strings.Contains(msg, name) {
			return fmt.Errorf("%s: %w", op, sentinel)
		}
	}
	if strings.Contains(msg, "execution reverted") {
		return fmt.Errorf("%s: %w: %s", op, ErrReverted, msg)
	}
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrTransport, err)
}

func revertData(v interface{}) ([]byte, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, false
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) < 4 {
		return nil, false
	}
	return b, true
}

func matchSelector(parsed *abi.ABI, data []byte) (string, bool) {
	for name, e := range parsed.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return name, true
		}
	}
	return "", false
}
