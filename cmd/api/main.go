// Command api runs the wallet HTTP API together with the chain watchers,
// withdrawal dispatcher and timeout sweeps.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ayo6706/crypto-ledger/internal/app"
	"github.com/ayo6706/crypto-ledger/internal/config"
)

// Exit codes: 2 for a bad environment, 1 for anything that failed after
// startup.
func main() {
	err := app.Run()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "crypto-ledger: %v\n", err)
	if errors.Is(err, config.ErrInvalid) {
		os.Exit(2)
	}
	os.Exit(1)
}
