package sandbox

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

const sol = 1_000_000_000

var (
	testProgramID   = solana.MustPublicKeyFromBase58("TestProgram11111111111111111111111111111111")
	bounceProgramID = solana.MustPublicKeyFromBase58("BounceProgram111111111111111111111111111111")
	vaultSeed       = []byte("vault")
)

// Test program opcodes.
const (
	opReturn byte = iota
	opWrite
	opVaultTransfer
	opRecurse
	opMint
	opFail
	opBounce
)

func testProgram(ictx *InvokeContext) error {
	data := ictx.Data()
	switch data[0] {
	case opReturn:
		return ictx.SetReturnData(data[1:])
	case opWrite:
		account, err := ictx.Account(0)
		if err != nil {
			return err
		}
		return account.SetData(data[1:])
	case opVaultTransfer:
		vault, err := ictx.Account(0)
		if err != nil {
			return err
		}
		dest, err := ictx.Account(1)
		if err != nil {
			return err
		}
		ix := system.NewTransferInstruction(1000, vault.Key, dest.Key).Build()
		if data[1] == 0 {
			return ictx.Invoke(ix)
		}
		return ictx.InvokeSigned(ix, [][]byte{vaultSeed, {data[2]}})
	case opRecurse:
		if data[1] == 0 {
			return ictx.SetReturnData([]byte{byte(ictx.Depth())})
		}
		return ictx.Invoke(solana.NewInstruction(ictx.ProgramID(), nil, []byte{opRecurse, data[1] - 1}))
	case opMint:
		account, err := ictx.Account(0)
		if err != nil {
			return err
		}
		return account.Credit(1)
	case opFail:
		ictx.Log("failing on purpose")
		return CustomError(7)
	case opBounce:
		return ictx.Invoke(solana.NewInstruction(bounceProgramID, nil, nil))
	}
	return ErrInvalidInstructionData
}

// bounceProgram calls back into the test program.
func bounceProgram(ictx *InvokeContext) error {
	return ictx.Invoke(solana.NewInstruction(testProgramID, nil, []byte{opReturn}))
}

func newTestLedger(t *testing.T) (*Ledger, solana.PrivateKey) {
	t.Helper()
	ledger := New(zap.NewNop())
	ledger.AddProgram(testProgramID, ProgramFunc(testProgram))
	ledger.AddProgram(bounceProgramID, ProgramFunc(bounceProgram))

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, ledger.Airdrop(payer.PublicKey(), 10*sol))
	return ledger, payer
}

func buildTx(t *testing.T, ledger *Ledger, payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) *solana.Transaction {
	t.Helper()
	blockhash, err := ledger.LatestBlockhash(context.Background())
	require.NoError(t, err)
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	keys := append([]solana.PrivateKey{payer}, signers...)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func TestTransferChargesFee(t *testing.T) {
	ledger, payer := newTestLedger(t)
	dest := solana.NewWallet().PublicKey()

	tx := buildTx(t, ledger, payer, nil, system.NewTransferInstruction(sol, payer.PublicKey(), dest).Build())
	meta, err := ledger.Process(tx)
	require.NoError(t, err)

	assert.Equal(t, tx.Signatures[0], meta.Signature)
	assert.Equal(t, LamportsPerSignature, meta.Fee)
	assert.Equal(t, uint64(9*sol)-LamportsPerSignature, ledger.Balance(payer.PublicKey()))
	assert.Equal(t, uint64(sol), ledger.Balance(dest))

	acct, err := ledger.GetAccount(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, acct.Owner)

	recorded, ok := ledger.Transaction(meta.Signature)
	require.True(t, ok)
	assert.Equal(t, meta, recorded)
}

func TestCreateAccount(t *testing.T) {
	ledger, payer := newTestLedger(t)
	newAccount, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	create := func(lamports uint64) error {
		ix := system.NewCreateAccountInstruction(lamports, 16, testProgramID, payer.PublicKey(), newAccount.PublicKey()).Build()
		_, err := ledger.Process(buildTx(t, ledger, payer, []solana.PrivateKey{newAccount}, ix))
		return err
	}

	err = create(ledger.MinimumBalance(16) - 1)
	assert.ErrorIs(t, err, ErrInsufficientFundsForRent)
	assert.Nil(t, ledger.Account(newAccount.PublicKey()))

	require.NoError(t, create(ledger.MinimumBalance(16)))
	acct := ledger.Account(newAccount.PublicKey())
	require.NotNil(t, acct)
	assert.Equal(t, testProgramID, acct.Owner)
	assert.Equal(t, make([]byte, 16), acct.Data)

	err = create(ledger.MinimumBalance(16))
	assert.ErrorIs(t, err, CustomError(0))
}

func TestMinimumBalance(t *testing.T) {
	ledger := New(zap.NewNop())
	assert.Equal(t, uint64(890880), ledger.MinimumBalance(0))
	assert.Equal(t, uint64(1002240), ledger.MinimumBalance(16))
}

func TestTransactionChecks(t *testing.T) {
	ledger, payer := newTestLedger(t)
	dest := solana.NewWallet().PublicKey()
	transfer := system.NewTransferInstruction(1, payer.PublicKey(), dest).Build()

	t.Run("duplicate", func(t *testing.T) {
		tx := buildTx(t, ledger, payer, nil, transfer)
		_, err := ledger.Process(tx)
		require.NoError(t, err)
		_, err = ledger.Process(tx)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})

	t.Run("expired blockhash", func(t *testing.T) {
		tx := buildTx(t, ledger, payer, nil, transfer)
		for i := 0; i < MaxRecentBlockhashes; i++ {
			ledger.ExpireBlockhash()
		}
		_, err := ledger.Process(tx)
		assert.ErrorIs(t, err, ErrBlockhashNotFound)
	})

	t.Run("bad signature", func(t *testing.T) {
		tx := buildTx(t, ledger, payer, nil, transfer)
		tx.Signatures[0][0] ^= 0xFF
		_, err := ledger.Process(tx)
		assert.ErrorIs(t, err, ErrSignatureFailure)
	})

	t.Run("unfunded payer", func(t *testing.T) {
		poor, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		tx := buildTx(t, ledger, poor, nil, system.NewTransferInstruction(1, poor.PublicKey(), dest).Build())
		_, err = ledger.Process(tx)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestFailedTransactionIsAtomic(t *testing.T) {
	ledger, payer := newTestLedger(t)
	dest := solana.NewWallet().PublicKey()

	tx := buildTx(t, ledger, payer, nil,
		system.NewTransferInstruction(sol, payer.PublicKey(), dest).Build(),
		solana.NewInstruction(testProgramID, nil, []byte{opFail}),
	)
	meta, err := ledger.Process(tx)
	require.Error(t, err)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 1, txErr.Index)
	assert.ErrorIs(t, err, CustomError(7))
	assert.Contains(t, txErr.Logs, "Program log: failing on purpose")

	assert.Equal(t, uint64(0), ledger.Balance(dest))
	assert.Equal(t, uint64(10*sol)-meta.Fee, ledger.Balance(payer.PublicKey()))

	_, ok := ledger.Transaction(tx.Signatures[0])
	assert.True(t, ok)
}

func TestSimulateDoesNotCommit(t *testing.T) {
	ledger, payer := newTestLedger(t)
	dest := solana.NewWallet().PublicKey()

	tx := buildTx(t, ledger, payer, nil,
		system.NewTransferInstruction(sol, payer.PublicKey(), dest).Build(),
		solana.NewInstruction(testProgramID, nil, []byte{opReturn, 1, 2, 3}),
	)
	data, err := ledger.SimulateReturnData(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, uint64(0), ledger.Balance(dest))
	assert.Equal(t, uint64(10*sol), ledger.Balance(payer.PublicKey()))

	empty := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, nil, []byte{opReturn}))
	data, err = ledger.SimulateReturnData(context.Background(), empty)
	require.NoError(t, err)
	assert.Nil(t, data)

	failing := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, nil, []byte{opFail}))
	_, err = ledger.SimulateReturnData(context.Background(), failing)
	assert.ErrorIs(t, err, CustomError(7))
	assert.NotErrorIs(t, err, clients.ErrConnection)
}

func TestForkIsIndependent(t *testing.T) {
	ledger, payer := newTestLedger(t)
	dest := solana.NewWallet().PublicKey()
	fork := ledger.Fork()

	tx := buildTx(t, fork, payer, nil, system.NewTransferInstruction(sol, payer.PublicKey(), dest).Build())
	_, err := fork.Process(tx)
	require.NoError(t, err)

	assert.Equal(t, uint64(sol), fork.Balance(dest))
	assert.Equal(t, uint64(0), ledger.Balance(dest))
	assert.Equal(t, uint64(10*sol), ledger.Balance(payer.PublicKey()))

	// The same transaction is still new to the parent.
	_, err = ledger.Process(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(sol), ledger.Balance(dest))
}

func TestInvokeSignedWithSeeds(t *testing.T) {
	ledger, payer := newTestLedger(t)
	vault, bump, err := solana.FindProgramAddress([][]byte{vaultSeed}, testProgramID)
	require.NoError(t, err)
	require.NoError(t, ledger.Airdrop(vault, sol))
	dest := solana.NewWallet().PublicKey()
	require.NoError(t, ledger.Airdrop(dest, sol))

	accounts := solana.AccountMetaSlice{
		solana.Meta(vault).WRITE(),
		solana.Meta(dest).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}

	unsigned := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, accounts, []byte{opVaultTransfer, 0, bump}))
	_, err = ledger.Process(unsigned)
	assert.ErrorIs(t, err, ErrPrivilegeEscalation)

	signed := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, accounts, []byte{opVaultTransfer, 1, bump}))
	meta, err := ledger.Process(signed)
	require.NoError(t, err)
	assert.Equal(t, uint64(sol-1000), ledger.Balance(vault))
	assert.Equal(t, uint64(sol+1000), ledger.Balance(dest))

	require.Len(t, meta.InnerInstructions, 1)
	require.Len(t, meta.InnerInstructions[0], 1)
	inner := meta.InnerInstructions[0][0]
	assert.Equal(t, solana.SystemProgramID, inner.ProgramID)
	assert.Equal(t, 2, inner.StackHeight)
	assert.Equal(t, []solana.PublicKey{vault, dest}, inner.Accounts)

	data := meta.InstructionData()
	require.Len(t, data, 2)
	assert.Equal(t, opVaultTransfer, data[0][0])
}

func TestAccountRules(t *testing.T) {
	ledger, payer := newTestLedger(t)
	foreign := solana.NewWallet().PublicKey()
	require.NoError(t, ledger.Airdrop(foreign, sol))

	owned := solana.NewWallet().PublicKey()
	ledger.SetAccount(owned, clients.Account{Lamports: ledger.MinimumBalance(4), Data: make([]byte, 4), Owner: testProgramID})

	tests := []struct {
		name    string
		account *solana.AccountMeta
		data    []byte
		wantErr error
	}{
		{"write foreign data", solana.Meta(foreign).WRITE(), []byte{opWrite, 1}, ErrExternalAccountDataModified},
		{"write read-only", solana.Meta(owned), []byte{opWrite, 1}, ErrReadonlyDataModified},
		{"mint lamports", solana.Meta(owned).WRITE(), []byte{opMint}, ErrUnbalancedInstruction},
		{"write owned", solana.Meta(owned).WRITE(), []byte{opWrite, 9, 9, 9, 9}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, solana.AccountMetaSlice{tt.account}, tt.data))
			_, err := ledger.Process(tx)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, []byte{9, 9, 9, 9}, ledger.Account(owned).Data)
}

func TestInvokeDepthAndReentrancy(t *testing.T) {
	ledger, payer := newTestLedger(t)

	ok := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, nil, []byte{opRecurse, MaxInvokeDepth - 1}))
	data, err := ledger.SimulateReturnData(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, []byte{MaxInvokeDepth}, data)

	deep := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, nil, []byte{opRecurse, MaxInvokeDepth}))
	_, err = ledger.Simulate(deep)
	assert.ErrorIs(t, err, ErrCallDepth)

	bounce := buildTx(t, ledger, payer, nil, solana.NewInstruction(testProgramID, nil, []byte{opBounce}))
	_, err = ledger.Simulate(bounce)
	assert.ErrorIs(t, err, ErrReentrancy)
}

func TestUnknownProgram(t *testing.T) {
	ledger, payer := newTestLedger(t)
	tx := buildTx(t, ledger, payer, nil, solana.NewInstruction(solana.NewWallet().PublicKey(), nil, []byte{1}))
	_, err := ledger.Process(tx)
	assert.ErrorIs(t, err, ErrInvalidProgramForExec)
}

func TestDrainedAccountIsRemoved(t *testing.T) {
	ledger, payer := newTestLedger(t)
	holder, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, ledger.Airdrop(holder.PublicKey(), sol))

	tx := buildTx(t, ledger, payer, []solana.PrivateKey{holder},
		system.NewTransferInstruction(sol, holder.PublicKey(), payer.PublicKey()).Build())
	_, err = ledger.Process(tx)
	require.NoError(t, err)

	acct, err := ledger.GetAccount(context.Background(), holder.PublicKey())
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestClockSysvar(t *testing.T) {
	ledger := New(zap.NewNop())
	start := ledger.Clock()
	ledger.ExpireBlockhash()
	assert.Equal(t, start.Slot+1, ledger.Clock().Slot)

	ledger.SetClock(Clock{Slot: 0, UnixTimestamp: 42})
	assert.Equal(t, start.Slot+1, ledger.Clock().Slot)
	assert.Equal(t, int64(42), ledger.Clock().UnixTimestamp)

	acct := ledger.Account(solana.SysVarClockPubkey)
	require.NotNil(t, acct)
	assert.Equal(t, SysvarOwnerID, acct.Owner)
	assert.Len(t, acct.Data, 40)
}

func TestCanceledContext(t *testing.T) {
	ledger := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.LatestBlockhash(ctx)
	assert.ErrorIs(t, err, clients.ErrConnection)
}
