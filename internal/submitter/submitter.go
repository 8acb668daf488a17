// Package submitter submits VAAs to Solana programs: it executes resolved
// instruction groups, manages the guardian signatures account and combines
// both into a single broadcast.
package submitter

import (
	"context"
	"errors"
)

var (
	// ErrExecution reports a failed or malformed instruction group submission.
	ErrExecution = errors.New("execution error")
	// ErrUnsupportedProgram reports a resolved plan that never consumes the
	// guardian signatures account.
	ErrUnsupportedProgram = errors.New("unsupported program")
)

type VAASubmitter interface {
	// SubmitVAA submits the given signed VAA bytes to the target program and returns the confirmation ids or an error
	SubmitVAA(ctx context.Context, vaaBytes []byte) ([]string, error)
}
