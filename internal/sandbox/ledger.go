// Package sandbox is a deterministic in-process Solana ledger. Programs are
// native Go implementations registered by address; transactions run through
// the same signature, fee, account permission and cross-program invocation
// rules a validator applies, without consensus or BPF execution.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

const (
	// LamportsPerSignature is the flat fee charged per transaction signature.
	LamportsPerSignature uint64 = 5000
	// MaxRecentBlockhashes is how many blockhashes a transaction may reference.
	MaxRecentBlockhashes = 150
	// MaxInvokeDepth bounds the instruction stack, top-level included.
	MaxInvokeDepth = 4
	// MaxReturnData is the largest return data a program may set.
	MaxReturnData = 1024
	// MaxAccountDataLen bounds a single account allocation.
	MaxAccountDataLen = 10 * 1024 * 1024

	lamportsPerByteYear    uint64 = 3480
	exemptionYears         uint64 = 2
	accountStorageOverhead uint64 = 128

	genesisTimestamp int64 = 1_700_000_000
)

var (
	// NativeLoaderID owns builtin programs such as the system program.
	NativeLoaderID = solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111")
	// SysvarOwnerID owns sysvar accounts.
	SysvarOwnerID = solana.MustPublicKeyFromBase58("Sysvar1111111111111111111111111111111111111")
)

// Program is a native program. Programs must keep all state in accounts so
// that a forked ledger behaves independently.
type Program interface {
	Process(ictx *InvokeContext) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ictx *InvokeContext) error

// Process implements Program.
func (f ProgramFunc) Process(ictx *InvokeContext) error {
	return f(ictx)
}

// Clock is the ledger's clock sysvar.
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// Ledger is the sandbox state. It implements clients.Connection.
type Ledger struct {
	mu sync.Mutex

	accounts    map[solana.PublicKey]*clients.Account
	programs    map[solana.PublicKey]Program
	blockhashes []solana.Hash
	processed   map[solana.Signature]*TransactionMeta
	clock       Clock

	logger *zap.Logger
}

var _ clients.Connection = (*Ledger)(nil)

// New creates a ledger with the system program and the clock sysvar.
func New(logger *zap.Logger) *Ledger {
	genesis := sha256.Sum256([]byte("wormhole-svm-utils sandbox genesis"))
	l := &Ledger{
		accounts:    make(map[solana.PublicKey]*clients.Account),
		programs:    make(map[solana.PublicKey]Program),
		blockhashes: []solana.Hash{solana.Hash(genesis)},
		processed:   make(map[solana.Signature]*TransactionMeta),
		clock:       Clock{Slot: 1, UnixTimestamp: genesisTimestamp},
		logger:      logger.With(zap.String("component", "Sandbox")),
	}
	l.registerBuiltin(solana.SystemProgramID, ProgramFunc(processSystem))
	l.writeClock()
	return l
}

func (l *Ledger) registerBuiltin(id solana.PublicKey, program Program) {
	l.programs[id] = program
	l.accounts[id] = &clients.Account{Lamports: 1, Owner: NativeLoaderID, Executable: true}
}

// AddProgram registers a native program at id, replacing any program or
// account already there.
func (l *Ledger) AddProgram(id solana.PublicKey, program Program) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.programs[id] = program
	l.accounts[id] = &clients.Account{
		Lamports:   l.minimumBalance(0),
		Owner:      solana.BPFLoaderUpgradeableProgramID,
		Executable: true,
	}
	l.logger.Debug("Program added", zap.Stringer("programID", id))
}

// HasProgram reports whether a program is registered at id.
func (l *Ledger) HasProgram(id solana.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.programs[id]
	return ok
}

// SetAccount stores a copy of account at address. An account with zero
// lamports is removed.
func (l *Ledger) SetAccount(address solana.PublicKey, account clients.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if account.Lamports == 0 {
		delete(l.accounts, address)
		return
	}
	l.accounts[address] = copyAccount(&account)
}

// Account returns a copy of the account at address, or nil.
func (l *Ledger) Account(address solana.PublicKey) *clients.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyAccount(l.accounts[address])
}

// Balance returns the lamports held at address.
func (l *Ledger) Balance(address solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[address]; ok {
		return acct.Lamports
	}
	return 0
}

// Airdrop credits lamports to address, creating a system account if needed.
func (l *Ledger) Airdrop(address solana.PublicKey, lamports uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[address]
	if !ok {
		acct = &clients.Account{Owner: solana.SystemProgramID}
		l.accounts[address] = acct
	}
	if acct.Lamports+lamports < acct.Lamports {
		return fmt.Errorf("airdrop to %s overflows balance", address)
	}
	acct.Lamports += lamports
	return nil
}

// MinimumBalance returns the rent-exempt balance for size bytes of data.
func (l *Ledger) MinimumBalance(size int) uint64 {
	return l.minimumBalance(size)
}

func (l *Ledger) minimumBalance(size int) uint64 {
	return (accountStorageOverhead + uint64(size)) * lamportsPerByteYear * exemptionYears
}

// Clock returns the current clock.
func (l *Ledger) Clock() Clock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock
}

// SetClock overrides the clock. The slot never moves backwards.
func (l *Ledger) SetClock(clock Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if clock.Slot < l.clock.Slot {
		clock.Slot = l.clock.Slot
	}
	l.clock = clock
	l.writeClock()
}

// ExpireBlockhash advances the blockhash without processing a transaction.
func (l *Ledger) ExpireBlockhash() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance()
}

// Transaction returns the meta of a processed transaction.
func (l *Ledger) Transaction(sig solana.Signature) (*TransactionMeta, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, ok := l.processed[sig]
	return meta, ok
}

// Fork returns an independent copy of the ledger. Programs are shared.
func (l *Ledger) Fork() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()

	fork := &Ledger{
		accounts:    make(map[solana.PublicKey]*clients.Account, len(l.accounts)),
		programs:    make(map[solana.PublicKey]Program, len(l.programs)),
		blockhashes: append([]solana.Hash(nil), l.blockhashes...),
		processed:   make(map[solana.Signature]*TransactionMeta, len(l.processed)),
		clock:       l.clock,
		logger:      l.logger,
	}
	for k, v := range l.accounts {
		fork.accounts[k] = copyAccount(v)
	}
	for k, v := range l.programs {
		fork.programs[k] = v
	}
	for k, v := range l.processed {
		fork.processed[k] = v
	}
	return fork
}

// LatestBlockhash implements clients.Connection.
func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, fmt.Errorf("%w: %w", clients.ErrConnection, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhashes[len(l.blockhashes)-1], nil
}

// SimulateReturnData implements clients.Connection.
func (l *Ledger) SimulateReturnData(ctx context.Context, tx *solana.Transaction) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", clients.ErrConnection, err)
	}
	meta, err := l.Simulate(tx)
	if err != nil {
		return nil, err
	}
	if meta.ReturnData == nil || len(meta.ReturnData.Data) == 0 {
		return nil, nil
	}
	return append([]byte(nil), meta.ReturnData.Data...), nil
}

// SendAndConfirm implements clients.Connection. Transactions are final as
// soon as they are processed.
func (l *Ledger) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", clients.ErrConnection, err)
	}
	meta, err := l.Process(tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return meta.Signature, nil
}

// GetAccount implements clients.Connection.
func (l *Ledger) GetAccount(ctx context.Context, address solana.PublicKey) (*clients.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", clients.ErrConnection, err)
	}
	return l.Account(address), nil
}

func (l *Ledger) recentBlockhash(hash solana.Hash) bool {
	for _, h := range l.blockhashes {
		if h == hash {
			return true
		}
	}
	return false
}

// advance moves to the next slot and blockhash.
func (l *Ledger) advance() {
	next := sha256.Sum256(l.blockhashes[len(l.blockhashes)-1][:])
	l.blockhashes = append(l.blockhashes, solana.Hash(next))
	if len(l.blockhashes) > MaxRecentBlockhashes {
		l.blockhashes = l.blockhashes[len(l.blockhashes)-MaxRecentBlockhashes:]
	}
	l.clock.Slot++
	l.writeClock()
}

// writeClock mirrors the clock into the clock sysvar account.
func (l *Ledger) writeClock() {
	data := make([]byte, 40)
	binary.LittleEndian.PutUint64(data[0:8], l.clock.Slot)
	binary.LittleEndian.PutUint64(data[8:16], uint64(l.clock.UnixTimestamp))
	binary.LittleEndian.PutUint64(data[32:40], uint64(l.clock.UnixTimestamp))
	l.accounts[solana.SysVarClockPubkey] = &clients.Account{
		Lamports: l.minimumBalance(len(data)),
		Data:     data,
		Owner:    SysvarOwnerID,
	}
}

func copyAccount(a *clients.Account) *clients.Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}
