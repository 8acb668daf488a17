package sandbox

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

// AccountInfo is an instruction's view of an account. Writes go to the
// transaction's working set and are subject to the runtime's ownership and
// writability rules for the executing program.
type AccountInfo struct {
	Key        solana.PublicKey
	IsSigner   bool
	IsWritable bool

	account *clients.Account
	program solana.PublicKey
}

// Lamports returns the account balance.
func (a *AccountInfo) Lamports() uint64 { return a.account.Lamports }

// Data returns the account data. Callers must not modify it; use SetData.
func (a *AccountInfo) Data() []byte { return a.account.Data }

// Owner returns the owning program.
func (a *AccountInfo) Owner() solana.PublicKey { return a.account.Owner }

// Executable reports whether the account is a program.
func (a *AccountInfo) Executable() bool { return a.account.Executable }

// IsOwnedBy reports whether program owns the account.
func (a *AccountInfo) IsOwnedBy(program solana.PublicKey) bool {
	return a.account.Owner.Equals(program)
}

// Exists reports whether the account holds any lamports.
func (a *AccountInfo) Exists() bool { return a.account.Lamports > 0 }

// SetData replaces the account data.
func (a *AccountInfo) SetData(data []byte) error {
	if err := a.checkDataWrite(); err != nil {
		return err
	}
	if len(data) > MaxAccountDataLen {
		return fmt.Errorf("%w: %d bytes", ErrInvalidArgument, len(data))
	}
	a.account.Data = append([]byte(nil), data...)
	return nil
}

// Debit moves n lamports out of the account.
func (a *AccountInfo) Debit(n uint64) error {
	if !a.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyLamportChange, a.Key)
	}
	if !a.IsOwnedBy(a.program) {
		return fmt.Errorf("%w: %s", ErrExternalLamportSpend, a.Key)
	}
	if a.account.Lamports < n {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, a.Key, a.account.Lamports, n)
	}
	a.account.Lamports -= n
	return nil
}

// Credit adds n lamports to the account.
func (a *AccountInfo) Credit(n uint64) error {
	if !a.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyLamportChange, a.Key)
	}
	if a.account.Lamports+n < a.account.Lamports {
		return fmt.Errorf("%w: balance overflow on %s", ErrInvalidArgument, a.Key)
	}
	a.account.Lamports += n
	return nil
}

// Assign transfers ownership. Only the owner may assign, and only once the
// data is cleared.
func (a *AccountInfo) Assign(owner solana.PublicKey) error {
	if a.account.Owner.Equals(owner) {
		return nil
	}
	if !a.IsWritable || !a.IsOwnedBy(a.program) || a.account.Executable {
		return fmt.Errorf("%w: %s", ErrModifiedProgramID, a.Key)
	}
	for _, b := range a.account.Data {
		if b != 0 {
			return fmt.Errorf("%w: %s has data", ErrModifiedProgramID, a.Key)
		}
	}
	a.account.Owner = owner
	return nil
}

func (a *AccountInfo) checkDataWrite() error {
	switch {
	case !a.IsWritable:
		return fmt.Errorf("%w: %s", ErrReadonlyDataModified, a.Key)
	case a.account.Executable:
		return fmt.Errorf("%w: %s", ErrExecutableModified, a.Key)
	case !a.IsOwnedBy(a.program):
		return fmt.Errorf("%w: %s", ErrExternalAccountDataModified, a.Key)
	}
	return nil
}

// InvokeContext is what a program sees while it executes one instruction.
type InvokeContext struct {
	state     *txState
	programID solana.PublicKey
	accounts  []*AccountInfo
	data      []byte
	depth     int
}

// ProgramID returns the executing program.
func (c *InvokeContext) ProgramID() solana.PublicKey { return c.programID }

// Data returns the instruction data.
func (c *InvokeContext) Data() []byte { return c.data }

// Accounts returns the instruction accounts in order.
func (c *InvokeContext) Accounts() []*AccountInfo { return c.accounts }

// Account returns instruction account i.
func (c *InvokeContext) Account(i int) (*AccountInfo, error) {
	if i < 0 || i >= len(c.accounts) {
		return nil, fmt.Errorf("%w: want account %d of %d", ErrNotEnoughAccountKeys, i, len(c.accounts))
	}
	return c.accounts[i], nil
}

// Depth returns the stack height of this instruction, 1 for top-level.
func (c *InvokeContext) Depth() int { return c.depth }

// Clock returns the ledger clock.
func (c *InvokeContext) Clock() Clock { return c.state.ledger.clock }

// MinimumBalance returns the rent-exempt balance for size bytes.
func (c *InvokeContext) MinimumBalance(size int) uint64 {
	return c.state.ledger.minimumBalance(size)
}

// Log appends a program log line.
func (c *InvokeContext) Log(format string, args ...interface{}) {
	c.state.log("Program log: "+format, args...)
}

// SetReturnData records data as the result of this program.
func (c *InvokeContext) SetReturnData(data []byte) error {
	if len(data) > MaxReturnData {
		return fmt.Errorf("%w: %d bytes", ErrReturnDataTooLarge, len(data))
	}
	c.state.returnData = &ReturnData{ProgramID: c.programID, Data: append([]byte(nil), data...)}
	c.state.log("Program return: %s %s", c.programID, base64.StdEncoding.EncodeToString(data))
	return nil
}

// ReturnData returns the most recent return data, set by this program or
// by a program it invoked.
func (c *InvokeContext) ReturnData() (solana.PublicKey, []byte) {
	if c.state.returnData == nil {
		return solana.PublicKey{}, nil
	}
	return c.state.returnData.ProgramID, c.state.returnData.Data
}

// Invoke calls another program with the caller's privileges.
func (c *InvokeContext) Invoke(ix solana.Instruction) error {
	return c.InvokeSigned(ix)
}

// InvokeSigned calls another program. Each seed set derives, with the
// caller's program id, an address that signs the callee instruction.
func (c *InvokeContext) InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error {
	signers := make(map[solana.PublicKey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := solana.CreateProgramAddress(seeds, c.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		signers[pda] = true
	}

	metas := ix.Accounts()
	for _, meta := range metas {
		var (
			found            bool
			signer, writable bool
		)
		for _, info := range c.accounts {
			if info.Key.Equals(meta.PublicKey) {
				found = true
				signer = signer || info.IsSigner
				writable = writable || info.IsWritable
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.PublicKey)
		}
		if meta.IsSigner && !signer && !signers[meta.PublicKey] {
			return fmt.Errorf("%w: %s signer privilege escalated", ErrPrivilegeEscalation, meta.PublicKey)
		}
		if meta.IsWritable && !writable {
			return fmt.Errorf("%w: %s writable privilege escalated", ErrPrivilegeEscalation, meta.PublicKey)
		}
	}

	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	programID := ix.ProgramID()
	keys := make([]solana.PublicKey, len(metas))
	for i, meta := range metas {
		keys[i] = meta.PublicKey
	}
	s := c.state
	s.inner[s.current] = append(s.inner[s.current], InnerInstruction{
		ProgramID:   programID,
		Accounts:    keys,
		Data:        append([]byte(nil), data...),
		StackHeight: c.depth + 1,
	})
	return s.invoke(programID, metas, data)
}

func (s *txState) invoke(programID solana.PublicKey, metas []*solana.AccountMeta, data []byte) error {
	depth := len(s.stack) + 1
	if depth > MaxInvokeDepth {
		return ErrCallDepth
	}
	// Direct recursion is allowed, A -> B -> A is not.
	if n := len(s.stack); n > 0 && !s.stack[n-1].Equals(programID) {
		for _, caller := range s.stack {
			if caller.Equals(programID) {
				return fmt.Errorf("%w: %s", ErrReentrancy, programID)
			}
		}
	}

	program, ok := s.ledger.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidProgramForExec, programID)
	}

	infos := make([]*AccountInfo, len(metas))
	for i, meta := range metas {
		acct, ok := s.accounts[meta.PublicKey]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.PublicKey)
		}
		infos[i] = &AccountInfo{
			Key:        meta.PublicKey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			account:    acct,
			program:    programID,
		}
	}

	s.log("Program %s invoke [%d]", programID, depth)
	s.stack = append(s.stack, programID)
	err := program.Process(&InvokeContext{
		state:     s,
		programID: programID,
		accounts:  infos,
		data:      data,
		depth:     depth,
	})
	s.stack = s.stack[:len(s.stack)-1]
	if err != nil {
		s.log("Program %s failed: %v", programID, err)
		return err
	}
	s.log("Program %s success", programID)
	return nil
}
