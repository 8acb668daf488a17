package sandbox

import (
	"errors"
	"fmt"
)

// Transaction-level errors.
var (
	ErrSignatureFailure         = errors.New("transaction did not pass signature verification")
	ErrBlockhashNotFound        = errors.New("blockhash not found")
	ErrAlreadyProcessed         = errors.New("this transaction has already been processed")
	ErrAccountNotFound          = errors.New("attempt to debit an account but found no record of a prior credit")
	ErrInsufficientFundsForFee  = errors.New("insufficient funds for fee")
	ErrInsufficientFundsForRent = errors.New("transaction results in an account with insufficient funds for rent")
	ErrInvalidProgramForExec    = errors.New("attempt to load a program that does not exist")
)

// Instruction errors, as raised by the runtime or by programs.
var (
	ErrInvalidArgument             = errors.New("invalid program argument")
	ErrInvalidInstructionData      = errors.New("invalid instruction data")
	ErrInvalidAccountData          = errors.New("invalid account data for instruction")
	ErrAccountDataTooSmall         = errors.New("account data too small for instruction")
	ErrInsufficientFunds           = errors.New("insufficient funds for instruction")
	ErrIncorrectProgramID          = errors.New("incorrect program id for instruction")
	ErrMissingRequiredSignature    = errors.New("missing required signature for instruction")
	ErrAccountAlreadyInUse         = errors.New("account already in use")
	ErrNotEnoughAccountKeys        = errors.New("insufficient account keys for instruction")
	ErrInvalidSeeds                = errors.New("provided seeds do not result in a valid address")
	ErrIllegalOwner                = errors.New("provided owner is not allowed")
	ErrUnbalancedInstruction       = errors.New("sum of account balances before and after instruction do not match")
	ErrModifiedProgramID           = errors.New("instruction illegally modified the program id of an account")
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend        = errors.New("instruction spent from the balance of an account it does not own")
	ErrReadonlyLamportChange       = errors.New("instruction changed the balance of a read-only account")
	ErrReadonlyDataModified        = errors.New("instruction modified data of a read-only account")
	ErrExecutableModified          = errors.New("instruction changed executable accounts data")
	ErrPrivilegeEscalation         = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrCallDepth                   = errors.New("cross-program invocation call depth too deep")
	ErrReentrancy                  = errors.New("cross-program invocation reentrancy not allowed for this instruction")
	ErrMissingAccount              = errors.New("an account required by the instruction is missing")
	ErrReturnDataTooLarge          = errors.New("return data too large")
	ErrUnsupportedProgramID        = errors.New("unsupported program id")
)

// CustomError is a program-specific error code.
type CustomError uint32

func (e CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", uint32(e))
}

// TransactionError reports a failed transaction. Index is the top-level
// instruction that failed, or -1 for failures outside any instruction.
type TransactionError struct {
	Index int
	Err   error
	Logs  []string
}

func (e *TransactionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("transaction failed: %v", e.Err)
	}
	return fmt.Sprintf("transaction failed at instruction %d: %v", e.Index, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
