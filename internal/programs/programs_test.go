package programs_test

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/harness"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/programs"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/resolver"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

const sol = 1_000_000_000

var emitterAddress = [32]byte{0: 0xAB, 31: 0xCD}

type fixture struct {
	ledger    *sandbox.Ledger
	payer     solana.PrivateKey
	guardians *vaa.GuardianSet
	wh        *harness.WormholeAccounts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := sandbox.New(zap.NewNop())
	guardians, err := vaa.GenerateGuardians(3, 1)
	require.NoError(t, err)
	wh, err := harness.SetupWormhole(ledger, guardians, 0)
	require.NoError(t, err)
	wh.InstallExamples(ledger)

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, ledger.Airdrop(payer.PublicKey(), 10*sol))
	return &fixture{ledger: ledger, payer: payer, guardians: guardians, wh: wh}
}

// post writes records into a fresh signatures account.
func (f *fixture) post(t *testing.T, gsi uint32, records []vaa.SignatureRecord) solana.PrivateKey {
	t.Helper()
	sigs, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	ix, err := wormhole.NewPostSignaturesInstruction(f.wh.VerifyShim, f.payer.PublicKey(), sigs.PublicKey(), gsi, records)
	require.NoError(t, err)
	_, err = harness.Process(f.ledger, f.payer, []solana.PrivateKey{sigs}, ix)
	require.NoError(t, err)
	return sigs
}

func (f *fixture) verify(sigs solana.PublicKey, body []byte) error {
	ix := programs.NewVerifyVAAInstruction(programs.VAAVerifierProgramID, f.wh.VerifyShim, f.payer.PublicKey(),
		f.wh.GuardianSet, sigs, f.wh.GuardianSetBump, body)
	_, err := harness.Process(f.ledger, f.payer, nil, ix)
	return err
}

func testMessage() vaa.Message {
	return vaa.NewMessage(2, emitterAddress, 5, []byte("payload"))
}

func TestVerifyShimAcceptsQuorum(t *testing.T) {
	f := newFixture(t)
	msg := testMessage()
	records, err := msg.Signatures(f.guardians)
	require.NoError(t, err)

	sigs := f.post(t, 0, records)
	account := f.ledger.Account(sigs.PublicKey())
	require.NotNil(t, account)
	assert.Equal(t, wormhole.VerifyVAAShimProgramID, account.Owner)
	assert.Len(t, account.Data, wormhole.GuardianSignaturesSpace(3))

	posted, err := wormhole.ParseGuardianSignatures(account.Data)
	require.NoError(t, err)
	assert.Equal(t, f.payer.PublicKey(), posted.RefundRecipient)
	assert.Equal(t, uint32(0), posted.GuardianSetIndex())
	assert.Len(t, posted.Signatures, 3)

	require.NoError(t, f.verify(sigs.PublicKey(), msg.Body()))

	other := msg
	other.Sequence++
	assert.ErrorIs(t, f.verify(sigs.PublicKey(), other.Body()), programs.ErrInvalidSignature)
}

func TestVerifyShimAppendsSignatures(t *testing.T) {
	f := newFixture(t)
	msg := testMessage()
	records, err := msg.Signatures(f.guardians)
	require.NoError(t, err)

	sigs, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	first, err := wormhole.NewPostSignaturesInstruction(f.wh.VerifyShim, f.payer.PublicKey(), sigs.PublicKey(), 0, records[:2])
	require.NoError(t, err)
	// The first call sizes the account for the total it announces.
	data, err := first.Data()
	require.NoError(t, err)
	data[12] = 3
	first = solana.NewInstruction(f.wh.VerifyShim, first.Accounts(), data)
	_, err = harness.Process(f.ledger, f.payer, []solana.PrivateKey{sigs}, first)
	require.NoError(t, err)

	assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrNoQuorum)

	second, err := wormhole.NewPostSignaturesInstruction(f.wh.VerifyShim, f.payer.PublicKey(), sigs.PublicKey(), 0, records[2:])
	require.NoError(t, err)
	_, err = harness.Process(f.ledger, f.payer, []solana.PrivateKey{sigs}, second)
	require.NoError(t, err)

	assert.NoError(t, f.verify(sigs.PublicKey(), msg.Body()))

	third, err := wormhole.NewPostSignaturesInstruction(f.wh.VerifyShim, f.payer.PublicKey(), sigs.PublicKey(), 0, records[:1])
	require.NoError(t, err)
	_, err = harness.Process(f.ledger, f.payer, []solana.PrivateKey{sigs}, third)
	assert.ErrorIs(t, err, programs.ErrTooManySignatures)
}

func TestVerifyShimRejections(t *testing.T) {
	msg := testMessage()

	t.Run("below quorum", func(t *testing.T) {
		f := newFixture(t)
		records, err := f.guardians.SignWith(msg.Body(), []uint8{0, 2})
		require.NoError(t, err)
		sigs := f.post(t, 0, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrNoQuorum)
	})

	t.Run("indices not increasing", func(t *testing.T) {
		f := newFixture(t)
		records, err := msg.Signatures(f.guardians)
		require.NoError(t, err)
		records[0], records[1] = records[1], records[0]
		sigs := f.post(t, 0, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrNonIncreasingIndices)
	})

	t.Run("duplicate signer", func(t *testing.T) {
		f := newFixture(t)
		records, err := msg.Signatures(f.guardians)
		require.NoError(t, err)
		records[1] = records[0]
		sigs := f.post(t, 0, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrNonIncreasingIndices)
	})

	t.Run("guardian index out of range", func(t *testing.T) {
		f := newFixture(t)
		larger, err := vaa.GenerateGuardians(4, 1)
		require.NoError(t, err)
		records, err := larger.SignWith(msg.Body(), []uint8{0, 1, 3})
		require.NoError(t, err)
		sigs := f.post(t, 0, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrInvalidGuardianIndex)
	})

	t.Run("wrong guardian set index", func(t *testing.T) {
		f := newFixture(t)
		records, err := msg.Signatures(f.guardians)
		require.NoError(t, err)
		sigs := f.post(t, 1, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrInvalidGuardianSet)
	})

	t.Run("expired guardian set", func(t *testing.T) {
		f := newFixture(t)
		set := vaa.NewGuardianSetData(f.guardians, 0)
		set.ExpirationTime = uint32(f.ledger.Clock().UnixTimestamp - 1)
		data, err := set.Marshal()
		require.NoError(t, err)
		account := f.ledger.Account(f.wh.GuardianSet)
		account.Data = data
		f.ledger.SetAccount(f.wh.GuardianSet, *account)

		records, err := msg.Signatures(f.guardians)
		require.NoError(t, err)
		sigs := f.post(t, 0, records)
		assert.ErrorIs(t, f.verify(sigs.PublicKey(), msg.Body()), programs.ErrGuardianSetExpired)
	})

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		sigs, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		ix, err := wormhole.NewPostSignaturesInstruction(f.wh.VerifyShim, f.payer.PublicKey(), sigs.PublicKey(), 0, nil)
		require.NoError(t, err)
		_, err = harness.Process(f.ledger, f.payer, []solana.PrivateKey{sigs}, ix)
		assert.ErrorIs(t, err, programs.ErrEmptySignatures)
	})
}

func TestCloseSignaturesRefundsPayer(t *testing.T) {
	f := newFixture(t)
	records, err := testMessage().Signatures(f.guardians)
	require.NoError(t, err)
	sigs := f.post(t, 0, records)
	rent := f.ledger.Balance(sigs.PublicKey())
	require.Equal(t, f.ledger.MinimumBalance(wormhole.GuardianSignaturesSpace(3)), rent)

	stranger, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, f.ledger.Airdrop(stranger.PublicKey(), sol))
	_, err = harness.Process(f.ledger, stranger, nil,
		wormhole.NewCloseSignaturesInstruction(f.wh.VerifyShim, sigs.PublicKey(), stranger.PublicKey()))
	assert.ErrorIs(t, err, programs.ErrInvalidRefundRecipient)

	before := f.ledger.Balance(f.payer.PublicKey())
	_, err = harness.Process(f.ledger, f.payer, nil,
		wormhole.NewCloseSignaturesInstruction(f.wh.VerifyShim, sigs.PublicKey(), f.payer.PublicKey()))
	require.NoError(t, err)
	assert.Nil(t, f.ledger.Account(sigs.PublicKey()))
	assert.Equal(t, before+rent-sandbox.LamportsPerSignature, f.ledger.Balance(f.payer.PublicKey()))
}

func TestSkipVerifyAcceptsAnything(t *testing.T) {
	f := newFixture(t)
	ix := programs.NewSkipVerifyInstruction(programs.VAAVerifierProgramID, f.wh.VerifyShim, f.payer.PublicKey(),
		f.wh.GuardianSet, solana.NewWallet().PublicKey(), 0, testMessage().Body())
	meta, err := harness.Process(f.ledger, f.payer, nil, ix)
	require.NoError(t, err)
	assert.Contains(t, meta.Logs, "Program log: SKIPPING VERIFICATION")
}

func TestVerifierInstructionData(t *testing.T) {
	body := []byte{1, 2, 3}
	data := programs.VerifierInstructionData(programs.VerifierIxVerify, 254, body)
	assert.Equal(t, []byte{0, 254, 3, 0, 0, 0, 1, 2, 3}, data)

	data = programs.EmitMessageData(0x01020304, 1, []byte("hi"))
	assert.Equal(t, []byte{4, 3, 2, 1, 1, 2, 0, 0, 0, 'h', 'i'}, data)
}

func TestMessageEmitterSequencesAndMessageAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emitter, _, err := programs.EmitterAddress(programs.MessageEmitterProgramID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ix, err := programs.NewEmitMessageInstruction(programs.MessageEmitterProgramID, f.payer.PublicKey(),
			f.wh.CoreBridge, f.wh.PostMessageShim, uint32(i), wormhole.FinalityFinalized, []byte{byte(i)})
		require.NoError(t, err)
		meta, err := harness.Process(f.ledger, f.payer, nil, f.wh.BridgeFeeInstruction(f.payer.PublicKey()), ix)
		require.NoError(t, err)

		posted := harness.ExtractPostedMessages(meta)
		require.Len(t, posted, 1)
		assert.Equal(t, uint64(i), posted[0].Sequence)
		assert.Equal(t, wormhole.ChainIDSolana, posted[0].EmitterChain)
		assert.Equal(t, []byte{byte(i)}, posted[0].Payload)
		assert.Equal(t, uint32(f.ledger.Clock().UnixTimestamp), posted[0].Timestamp)
	}

	seq, err := f.wh.ReadEmitterSequence(ctx, f.ledger, emitter)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	// The shim reuses one core bridge message account, which carries no payload.
	message, _, err := wormhole.ShimMessageAddress(emitter, f.wh.PostMessageShim)
	require.NoError(t, err)
	account := f.ledger.Account(message)
	require.NotNil(t, account)
	stored, err := wormhole.ParseUnreliableMessage(account.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Sequence)
	assert.Equal(t, emitter, stored.EmitterAddress)
	assert.Empty(t, stored.Payload)

	config, err := vaa.ParseBridgeData(f.ledger.Account(f.wh.BridgeConfig).Data)
	require.NoError(t, err)
	assert.Equal(t, f.ledger.Balance(f.wh.FeeCollector), config.LastLamports)
}

func TestMessageEmitterRejectsForeignShim(t *testing.T) {
	f := newFixture(t)
	ix, err := programs.NewEmitMessageInstruction(programs.MessageEmitterProgramID, f.payer.PublicKey(),
		f.wh.CoreBridge, programs.ReceiverProgramID, 0, 0, nil)
	require.NoError(t, err)
	_, err = harness.Process(f.ledger, f.payer, nil, f.wh.BridgeFeeInstruction(f.payer.PublicKey()), ix)
	assert.ErrorIs(t, err, sandbox.ErrIncorrectProgramID)
}

func installReceiver(t *testing.T, f *fixture, configure func(*programs.Receiver)) {
	t.Helper()
	r := programs.NewReceiver(f.wh.VerifyShim, f.wh.CoreBridge)
	if configure != nil {
		configure(r)
	}
	require.NoError(t, programs.InstallReceiver(f.ledger, programs.ReceiverProgramID, r, programs.ReceiverConfig{
		EmitterChain:   2,
		EmitterAddress: emitterAddress,
	}))
}

func TestReceiverResolvesInConfiguredRounds(t *testing.T) {
	for _, rounds := range []int{1, 2, 4} {
		f := newFixture(t)
		installReceiver(t, f, func(r *programs.Receiver) { r.ResolveRounds = rounds })

		result, err := resolver.Resolve(context.Background(), zap.NewNop(), f.ledger, resolver.Request{
			ProgramID:   programs.ReceiverProgramID,
			Payer:       f.payer,
			Body:        testMessage().Body(),
			GuardianSet: f.wh.GuardianSet,
		})
		require.NoError(t, err)
		assert.Equal(t, rounds+1, result.Iterations)
		require.Len(t, result.Groups, 1)

		ix := result.Groups[0].Instructions[0]
		assert.Equal(t, programs.ReceiverProgramID, ix.ProgramID)
		assert.Equal(t, resolver.RolePayer.Address(), ix.Accounts[0].Pubkey)
		assert.Equal(t, f.wh.GuardianSet, ix.Accounts[2].Pubkey)
		assert.Equal(t, resolver.RoleSignaturesAccount.Address(), ix.Accounts[3].Pubkey)
		assert.True(t, resolver.UsesRole(result.Groups, resolver.RoleSignaturesAccount))
	}
}

func TestReceiverReceiptPlanUsesGeneratedSigner(t *testing.T) {
	f := newFixture(t)
	installReceiver(t, f, func(r *programs.Receiver) { r.WriteReceipt = true })

	result, err := resolver.Resolve(context.Background(), zap.NewNop(), f.ledger, resolver.Request{
		ProgramID:   programs.ReceiverProgramID,
		Payer:       f.payer,
		Body:        testMessage().Body(),
		GuardianSet: f.wh.GuardianSet,
	})
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)

	create := result.Groups[0].Instructions[0]
	assert.Equal(t, solana.SystemProgramID, create.ProgramID)
	assert.True(t, resolver.UsesRole(result.Groups[:1], resolver.GeneratedSigner(0)))
	assert.True(t, resolver.UsesRole(result.Groups[1:], resolver.GeneratedSigner(0)))
}

func TestReceiverResolveRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	installReceiver(t, f, nil)

	_, err := resolver.Resolve(context.Background(), zap.NewNop(), f.ledger, resolver.Request{
		ProgramID:   programs.ReceiverProgramID,
		Payer:       f.payer,
		Body:        []byte("short"),
		GuardianSet: f.wh.GuardianSet,
	})
	assert.ErrorIs(t, err, resolver.ErrProtocol)
}

func TestReceiverExecutesOnce(t *testing.T) {
	f := newFixture(t)
	installReceiver(t, f, nil)
	msg := testMessage()
	records, err := msg.Signatures(f.guardians)
	require.NoError(t, err)

	execute := func() error {
		sigs := f.post(t, 0, records)
		ix, err := programs.NewExecuteVAAInstruction(programs.ReceiverProgramID, f.wh.VerifyShim,
			f.payer.PublicKey(), f.wh.GuardianSet, sigs.PublicKey(), msg.Body(), nil)
		require.NoError(t, err)
		_, err = harness.Process(f.ledger, f.payer, nil, ix)
		return err
	}

	require.NoError(t, execute())
	consumed, _, err := programs.ConsumedAddress(programs.ReceiverProgramID, 2, emitterAddress, 5)
	require.NoError(t, err)
	account := f.ledger.Account(consumed)
	require.NotNil(t, account)
	assert.Equal(t, programs.ReceiverProgramID, account.Owner)

	assert.ErrorIs(t, execute(), programs.ErrAlreadyConsumed)
}

func TestReceiverConfigChecks(t *testing.T) {
	f := newFixture(t)
	installReceiver(t, f, nil)

	run := func(msg vaa.Message) error {
		records, err := msg.Signatures(f.guardians)
		require.NoError(t, err)
		sigs := f.post(t, 0, records)
		ix, err := programs.NewExecuteVAAInstruction(programs.ReceiverProgramID, f.wh.VerifyShim,
			f.payer.PublicKey(), f.wh.GuardianSet, sigs.PublicKey(), msg.Body(), nil)
		require.NoError(t, err)
		_, err = harness.Process(f.ledger, f.payer, nil, ix)
		return err
	}

	msg := testMessage()
	msg.EmitterChain = 3
	assert.ErrorIs(t, run(msg), programs.ErrUnexpectedEmitterChain)

	msg = testMessage()
	msg.EmitterAddress[0] = 0
	assert.ErrorIs(t, run(msg), programs.ErrUnexpectedEmitterAddress)

	f.ledger.SetAccount(mustConfig(t), clients.Account{Lamports: sol, Owner: solana.SystemProgramID})
	assert.ErrorIs(t, run(testMessage()), programs.ErrInvalidConfig)
}

func mustConfig(t *testing.T) solana.PublicKey {
	t.Helper()
	addr, _, err := programs.ConfigAddress(programs.ReceiverProgramID)
	require.NoError(t, err)
	return addr
}

func TestReceiverConfigRoundTrip(t *testing.T) {
	config := programs.ReceiverConfig{EmitterChain: 10002, EmitterAddress: emitterAddress}
	data, err := config.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, 8+2+32)

	parsed, err := programs.ParseReceiverConfig(data)
	require.NoError(t, err)
	assert.Equal(t, config, *parsed)

	_, err = programs.ParseReceiverConfig(data[8:])
	assert.Error(t, err)
}
