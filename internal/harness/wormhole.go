package harness

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/programs"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// WormholeAccounts are the Wormhole programs and accounts seeded by
// SetupWormhole.
type WormholeAccounts struct {
	CoreBridge       solana.PublicKey
	VerifyShim       solana.PublicKey
	PostMessageShim  solana.PublicKey
	GuardianSet      solana.PublicKey
	GuardianSetIndex uint32
	GuardianSetBump  uint8
	BridgeConfig     solana.PublicKey
	FeeCollector     solana.PublicKey
	Fee              uint64
}

// SetupWormhole registers the core bridge and both shims at their mainnet
// ids and seeds a never-expiring guardian set at index, the bridge config
// and the fee collector.
func SetupWormhole(ledger *sandbox.Ledger, guardians *vaa.GuardianSet, index uint32) (*WormholeAccounts, error) {
	core := wormhole.CoreBridgeProgramID
	ledger.AddProgram(core, programs.NewCoreBridge())
	ledger.AddProgram(wormhole.VerifyVAAShimProgramID, programs.NewVerifyShim(core))
	ledger.AddProgram(wormhole.PostMessageShimProgramID, programs.NewPostMessageShim(core))

	guardianSet, bump, err := wormhole.GuardianSetAddress(index, core)
	if err != nil {
		return nil, err
	}
	gsData, err := vaa.NewGuardianSetData(guardians, index).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode guardian set: %w", err)
	}
	ledger.SetAccount(guardianSet, clients.Account{
		Lamports: ledger.MinimumBalance(len(gsData)),
		Data:     gsData,
		Owner:    core,
	})

	feeCollector, _, err := wormhole.FeeCollectorAddress(core)
	if err != nil {
		return nil, err
	}
	collectorBalance := ledger.MinimumBalance(0)
	ledger.SetAccount(feeCollector, clients.Account{Lamports: collectorBalance, Owner: solana.SystemProgramID})

	bridgeConfig, _, err := wormhole.BridgeConfigAddress(core)
	if err != nil {
		return nil, err
	}
	bridgeData, err := vaa.BridgeData{
		GuardianSetIndex:          index,
		LastLamports:              collectorBalance,
		GuardianSetExpirationTime: vaa.DefaultGuardianSetExpiration,
		Fee:                       vaa.DefaultBridgeFee,
	}.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge config: %w", err)
	}
	ledger.SetAccount(bridgeConfig, clients.Account{
		Lamports: ledger.MinimumBalance(len(bridgeData)),
		Data:     bridgeData,
		Owner:    core,
	})

	return &WormholeAccounts{
		CoreBridge:       core,
		VerifyShim:       wormhole.VerifyVAAShimProgramID,
		PostMessageShim:  wormhole.PostMessageShimProgramID,
		GuardianSet:      guardianSet,
		GuardianSetIndex: index,
		GuardianSetBump:  bump,
		BridgeConfig:     bridgeConfig,
		FeeCollector:     feeCollector,
		Fee:              vaa.DefaultBridgeFee,
	}, nil
}

// BridgeFeeInstruction pays the core bridge message fee. It must precede
// every instruction that posts a message in the same transaction.
func (w *WormholeAccounts) BridgeFeeInstruction(payer solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(w.Fee, payer, w.FeeCollector).Build()
}

// ReadEmitterSequence returns the sequence the next message from emitter
// will get: zero before its first message.
func (w *WormholeAccounts) ReadEmitterSequence(ctx context.Context, conn clients.Connection, emitter solana.PublicKey) (uint64, error) {
	address, _, err := wormhole.EmitterSequenceAddress(emitter, w.CoreBridge)
	if err != nil {
		return 0, err
	}
	account, err := conn.GetAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, nil
	}
	seq, ok := programs.ReadSequence(account.Data)
	if !ok {
		return 0, fmt.Errorf("sequence account %s holds %d bytes", address, len(account.Data))
	}
	return seq, nil
}

// ExtractPostedMessages returns the messages a processed transaction posted
// through the Post Message Shim.
func ExtractPostedMessages(meta *sandbox.TransactionMeta) []wormhole.PostedMessage {
	return wormhole.PostedMessages(meta.InstructionData())
}

// InstallExamples registers the demo VAA verifier and message emitter at
// their default ids.
func (w *WormholeAccounts) InstallExamples(ledger *sandbox.Ledger) {
	ledger.AddProgram(programs.VAAVerifierProgramID, programs.NewVAAVerifier(w.VerifyShim))
	ledger.AddProgram(programs.MessageEmitterProgramID, programs.NewMessageEmitter(w.PostMessageShim))
}

// Process signs ixs with payer and signers and processes them as one
// transaction on ledger.
func Process(ledger *sandbox.Ledger, payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) (*sandbox.TransactionMeta, error) {
	blockhash, err := ledger.LatestBlockhash(context.Background())
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	keys := append([]solana.PrivateKey{payer}, signers...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return ledger.Process(tx)
}
