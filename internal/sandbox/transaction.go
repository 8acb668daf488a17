package sandbox

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

// ReturnData is the data a program left as its result.
type ReturnData struct {
	ProgramID solana.PublicKey
	Data      []byte
}

// InnerInstruction is an instruction executed through a cross-program
// invocation. Top-level instructions have StackHeight 1.
type InnerInstruction struct {
	ProgramID   solana.PublicKey
	Accounts    []solana.PublicKey
	Data        []byte
	StackHeight int
}

// TransactionMeta is the outcome of a processed or simulated transaction.
type TransactionMeta struct {
	Signature solana.Signature
	Fee       uint64
	Logs      []string
	// Instructions holds the top-level instructions as executed.
	Instructions []InnerInstruction
	// InnerInstructions holds the CPIs made under each top-level instruction,
	// indexed like Instructions.
	InnerInstructions [][]InnerInstruction
	ReturnData        *ReturnData
}

// InstructionData returns the data of every executed instruction in
// execution order, each top-level instruction followed by its CPIs.
func (m *TransactionMeta) InstructionData() [][]byte {
	var out [][]byte
	for i, ix := range m.Instructions {
		out = append(out, ix.Data)
		if i < len(m.InnerInstructions) {
			for _, inner := range m.InnerInstructions[i] {
				out = append(out, inner.Data)
			}
		}
	}
	return out
}

// Process executes and commits tx. A transaction that fails after passing
// the signature, blockhash and fee checks still pays its fee; its meta is
// returned alongside the error.
func (l *Ledger) Process(tx *solana.Transaction) (*TransactionMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execute(tx, false)
}

// Simulate executes tx without committing anything. Signatures and the
// blockhash are not checked.
func (l *Ledger) Simulate(tx *solana.Transaction) (*TransactionMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execute(tx, true)
}

func (l *Ledger) execute(tx *solana.Transaction, simulate bool) (*TransactionMeta, error) {
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: transaction has no accounts", ErrAccountNotFound)
	}

	var sig solana.Signature
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0]
	}
	if !simulate {
		if err := l.checkSignatures(tx); err != nil {
			return nil, err
		}
		if !l.recentBlockhash(msg.RecentBlockhash) {
			return nil, ErrBlockhashNotFound
		}
		if _, ok := l.processed[sig]; ok {
			return nil, ErrAlreadyProcessed
		}
	}

	fee := LamportsPerSignature * uint64(msg.Header.NumRequiredSignatures)
	feePayer := msg.AccountKeys[0]
	payer, ok := l.accounts[feePayer]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if !payer.Owner.Equals(solana.SystemProgramID) || payer.Lamports < fee {
		return nil, ErrInsufficientFundsForFee
	}

	state := newTxState(l, msg)
	state.accounts[feePayer].Lamports -= fee

	meta := &TransactionMeta{
		Signature:         sig,
		Fee:               fee,
		Instructions:      make([]InnerInstruction, 0, len(msg.Instructions)),
		InnerInstructions: make([][]InnerInstruction, 0, len(msg.Instructions)),
	}

	txErr := state.run(meta)
	if txErr == nil {
		txErr = state.checkRent()
	}
	meta.Logs = state.logs
	meta.ReturnData = state.returnData
	if txErr != nil {
		txErr.Logs = state.logs
	}

	if simulate {
		if txErr != nil {
			return meta, txErr
		}
		return meta, nil
	}

	if txErr != nil {
		l.logger.Debug("Transaction failed",
			zap.Stringer("signature", sig),
			zap.Error(txErr),
			zap.Strings("logs", state.logs))
		payer.Lamports -= fee
		if payer.Lamports == 0 {
			delete(l.accounts, feePayer)
		}
	} else {
		state.commit()
		l.logger.Debug("Transaction processed",
			zap.Stringer("signature", sig),
			zap.Int("instructions", len(msg.Instructions)))
	}
	l.processed[sig] = meta
	l.advance()

	if txErr != nil {
		return meta, txErr
	}
	return meta, nil
}

func (l *Ledger) checkSignatures(tx *solana.Transaction) error {
	if len(tx.Signatures) == 0 || len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("%w: expected %d signatures, got %d",
			ErrSignatureFailure, tx.Message.Header.NumRequiredSignatures, len(tx.Signatures))
	}
	if err := tx.VerifySignatures(); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureFailure, err)
	}
	return nil
}

// txState is the copy-on-write working set of one transaction.
type txState struct {
	ledger   *Ledger
	msg      *solana.Message
	accounts map[solana.PublicKey]*clients.Account
	original map[solana.PublicKey]*clients.Account

	stack      []solana.PublicKey
	current    int
	inner      [][]InnerInstruction
	logs       []string
	returnData *ReturnData
}

func newTxState(l *Ledger, msg *solana.Message) *txState {
	s := &txState{
		ledger:   l,
		msg:      msg,
		accounts: make(map[solana.PublicKey]*clients.Account, len(msg.AccountKeys)),
		original: make(map[solana.PublicKey]*clients.Account, len(msg.AccountKeys)),
	}
	for _, key := range msg.AccountKeys {
		if _, ok := s.accounts[key]; ok {
			continue
		}
		acct := copyAccount(l.accounts[key])
		if acct == nil {
			acct = &clients.Account{Owner: solana.SystemProgramID}
		}
		s.accounts[key] = acct
		s.original[key] = copyAccount(acct)
	}
	return s
}

func (s *txState) run(meta *TransactionMeta) *TransactionError {
	for i, ix := range s.msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(s.msg.AccountKeys) {
			return &TransactionError{Index: i, Err: ErrNotEnoughAccountKeys}
		}
		programID := s.msg.AccountKeys[ix.ProgramIDIndex]

		metas := make([]*solana.AccountMeta, len(ix.Accounts))
		keys := make([]solana.PublicKey, len(ix.Accounts))
		for j, idx := range ix.Accounts {
			if int(idx) >= len(s.msg.AccountKeys) {
				return &TransactionError{Index: i, Err: ErrNotEnoughAccountKeys}
			}
			key := s.msg.AccountKeys[idx]
			writable, err := s.msg.IsWritable(key)
			if err != nil {
				return &TransactionError{Index: i, Err: err}
			}
			metas[j] = &solana.AccountMeta{PublicKey: key, IsSigner: s.msg.IsSigner(key), IsWritable: writable}
			keys[j] = key
		}

		data := []byte(ix.Data)
		meta.Instructions = append(meta.Instructions, InnerInstruction{
			ProgramID:   programID,
			Accounts:    keys,
			Data:        data,
			StackHeight: 1,
		})
		s.current = i
		s.inner = append(s.inner, nil)

		before := s.totalLamports()
		err := s.invoke(programID, metas, data)
		meta.InnerInstructions = append(meta.InnerInstructions, s.inner[i])
		if err != nil {
			return &TransactionError{Index: i, Err: err}
		}
		if s.totalLamports() != before {
			return &TransactionError{Index: i, Err: ErrUnbalancedInstruction}
		}
	}
	return nil
}

// checkRent rejects a transaction leaving a touched account funded but
// below its rent-exempt minimum.
func (s *txState) checkRent() *TransactionError {
	for key, acct := range s.accounts {
		orig := s.original[key]
		if acct.Lamports == orig.Lamports && len(acct.Data) == len(orig.Data) {
			continue
		}
		if acct.Lamports > 0 && acct.Lamports < s.ledger.minimumBalance(len(acct.Data)) {
			return &TransactionError{Index: -1, Err: fmt.Errorf("%w: %s", ErrInsufficientFundsForRent, key)}
		}
	}
	return nil
}

func (s *txState) totalLamports() uint64 {
	var total uint64
	for _, acct := range s.accounts {
		total += acct.Lamports
	}
	return total
}

// commit writes every writable account back to the ledger, dropping the
// ones left without lamports.
func (s *txState) commit() {
	for key, acct := range s.accounts {
		writable, err := s.msg.IsWritable(key)
		if err != nil || !writable {
			continue
		}
		if acct.Lamports == 0 {
			delete(s.ledger.accounts, key)
			continue
		}
		s.ledger.accounts[key] = acct
	}
}

func (s *txState) log(format string, args ...interface{}) {
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
}
