package clients

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrConnection marks failures to reach the ledger or transport-level errors
// returned by it.
var ErrConnection = errors.New("connection error")

// Account is the subset of on-chain account state callers need.
type Account struct {
	Lamports   uint64
	Data       []byte
	Owner      solana.PublicKey
	Executable bool
}

// Connection is the minimal ledger capability the submission flow depends on.
// It is implemented by SolanaClient (live RPC) and by the in-process sandbox.
// Implementations are not safe for concurrent use by multiple flows.
type Connection interface {
	// LatestBlockhash returns a recent blockhash usable for a new transaction.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// SimulateReturnData simulates the transaction and returns its return data,
	// or nil when the transaction set none.
	SimulateReturnData(ctx context.Context, tx *solana.Transaction) ([]byte, error)

	// SendAndConfirm submits the transaction and blocks until it is confirmed.
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// GetAccount fetches an account. A missing account yields (nil, nil).
	GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error)
}
