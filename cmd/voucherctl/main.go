// voucherctl hashes, signs and verifies vouchers and tier attestations
// offline, using the same encoding as the claim service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
