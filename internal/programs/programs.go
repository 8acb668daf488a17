// Package programs holds native sandbox implementations of the Wormhole
// programs a VAA submission touches, plus the example programs used to
// exercise the submission flow and the security harness.
package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
)

// Example program ids.
var (
	VAAVerifierProgramID    = solana.MustPublicKeyFromBase58("VAAVerifier11111111111111111111111111111111")
	MessageEmitterProgramID = solana.MustPublicKeyFromBase58("26g7Z38n86MGtturwtHuWKG3hr4QhvnaBfinaFKVaz4x")
	ReceiverProgramID       = solana.MustPublicKeyFromBase58("Receiver11111111111111111111111111111111111")
)

// Verify VAA Shim errors.
const (
	ErrEmptySignatures sandbox.CustomError = 6000 + iota
	ErrTooManySignatures
	ErrGuardianSetIndexMismatch
	ErrInvalidGuardianSet
	ErrGuardianSetExpired
	ErrNoQuorum
	ErrNonIncreasingIndices
	ErrInvalidGuardianIndex
	ErrInvalidSignature
	ErrInvalidRefundRecipient
)

// Core bridge errors.
const (
	ErrInsufficientFees sandbox.CustomError = 6100 + iota
	ErrInvalidBridgeConfig
	ErrInvalidMessageAccount
	ErrInvalidFinality
)

// Receiver errors.
const (
	ErrInvalidConfig sandbox.CustomError = 6200 + iota
	ErrUnexpectedEmitterChain
	ErrUnexpectedEmitterAddress
	ErrAlreadyConsumed
	ErrInvalidReceipt
)

// readVec reads a u32 little-endian length prefixed byte string.
func readVec(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing length prefix", sandbox.ErrInvalidInstructionData)
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) < 4+n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", sandbox.ErrInvalidInstructionData, n, len(data)-4)
	}
	return data[4 : 4+n], nil
}

func appendVec(out, v []byte) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(v)))
	return append(out, v...)
}

// accounts fetches the first n instruction accounts.
func accounts(ictx *sandbox.InvokeContext, n int) ([]*sandbox.AccountInfo, error) {
	all := ictx.Accounts()
	if len(all) < n {
		return nil, fmt.Errorf("%w: want %d, have %d", sandbox.ErrNotEnoughAccountKeys, n, len(all))
	}
	return all[:n], nil
}

// createAccount funds and allocates a new account owned by owner through the
// system program. seeds sign for a PDA destination.
func createAccount(ictx *sandbox.InvokeContext, payer, account *sandbox.AccountInfo, space int, owner solana.PublicKey, seeds ...[][]byte) error {
	ix := system.NewCreateAccountInstruction(ictx.MinimumBalance(space), uint64(space), owner, payer.Key, account.Key).Build()
	return ictx.InvokeSigned(ix, seeds...)
}
