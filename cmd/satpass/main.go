// Command satpass predicts when satellites pass over a ground location.
//
// It runs either as an HTTP service (satpass serve) or as a one-shot CLI
// (satpass transits 25544 --lat 51.5 --lon -0.1). Settings come from
// satpass.yaml, SATPASS_* environment variables and flags.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/star/satpass/internal/apperr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes bad input and unknown satellites from failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return 2
	case errors.Is(err, apperr.ErrNotFound):
		return 3
	case errors.Is(err, apperr.ErrProviderUnavailable):
		return 4
	default:
		return 1
	}
}
