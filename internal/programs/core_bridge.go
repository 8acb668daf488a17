package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// CoreBridge implements the part of the Wormhole core bridge the post
// message shim relies on: post_message_unreliable with fee collection and
// per-emitter sequence tracking. Guardian sets and the bridge config are
// seeded directly into the ledger.
type CoreBridge struct{}

// NewCoreBridge returns the core bridge program.
func NewCoreBridge() *CoreBridge {
	return &CoreBridge{}
}

// Process implements sandbox.Program.
func (p *CoreBridge) Process(ictx *sandbox.InvokeContext) error {
	args, err := wormhole.DecodeCorePostMessage(ictx.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	accts, err := accounts(ictx, 8)
	if err != nil {
		return err
	}
	bridge, message, emitter, sequence, payer, feeCollector := accts[0], accts[1], accts[2], accts[3], accts[4], accts[5]
	program := ictx.ProgramID()

	if !message.IsSigner || !emitter.IsSigner || !payer.IsSigner {
		return sandbox.ErrMissingRequiredSignature
	}
	if args.ConsistencyLevel > wormhole.FinalityFinalized {
		return ErrInvalidFinality
	}

	expectedBridge, _, err := wormhole.BridgeConfigAddress(program)
	if err != nil {
		return err
	}
	if !bridge.Key.Equals(expectedBridge) || !bridge.IsOwnedBy(program) {
		return ErrInvalidBridgeConfig
	}
	config, err := vaa.ParseBridgeData(bridge.Data())
	if err != nil {
		return ErrInvalidBridgeConfig
	}

	expectedCollector, _, err := wormhole.FeeCollectorAddress(program)
	if err != nil {
		return err
	}
	if !feeCollector.Key.Equals(expectedCollector) {
		return fmt.Errorf("%w: fee collector", sandbox.ErrInvalidArgument)
	}
	if feeCollector.Lamports() < config.LastLamports+config.Fee {
		ictx.Log("fee collector holds %d, want %d", feeCollector.Lamports(), config.LastLamports+config.Fee)
		return ErrInsufficientFees
	}
	config.LastLamports = feeCollector.Lamports()
	configData, err := config.Marshal()
	if err != nil {
		return err
	}
	if err := bridge.SetData(configData); err != nil {
		return err
	}

	seq, err := p.nextSequence(ictx, payer, emitter, sequence)
	if err != nil {
		return err
	}

	space := wormhole.UnreliableMessageSpace(len(args.Payload))
	if !message.Exists() {
		if err := createAccount(ictx, payer, message, space, program); err != nil {
			return err
		}
	} else {
		existing, err := wormhole.ParseUnreliableMessage(message.Data())
		if err != nil || !message.IsOwnedBy(program) || len(message.Data()) != space {
			return ErrInvalidMessageAccount
		}
		if !existing.EmitterAddress.Equals(emitter.Key) {
			return ErrInvalidMessageAccount
		}
	}

	posted := &wormhole.UnreliableMessage{
		ConsistencyLevel: args.ConsistencyLevel,
		SubmissionTime:   uint32(ictx.Clock().UnixTimestamp),
		Nonce:            args.Nonce,
		Sequence:         seq,
		EmitterChain:     wormhole.ChainIDSolana,
		EmitterAddress:   emitter.Key,
		Payload:          args.Payload,
	}
	if err := message.SetData(posted.Marshal()); err != nil {
		return err
	}
	ictx.Log("Sequence: %d", seq)
	return nil
}

// nextSequence returns the emitter's current sequence and stores the next
// one, creating the tracker on first use.
func (p *CoreBridge) nextSequence(ictx *sandbox.InvokeContext, payer, emitter, sequence *sandbox.AccountInfo) (uint64, error) {
	program := ictx.ProgramID()
	expected, bump, err := wormhole.EmitterSequenceAddress(emitter.Key, program)
	if err != nil {
		return 0, err
	}
	if !sequence.Key.Equals(expected) {
		return 0, fmt.Errorf("%w: sequence tracker", sandbox.ErrInvalidSeeds)
	}

	var current uint64
	if !sequence.Exists() {
		seeds := [][]byte{wormhole.SequenceSeed, emitter.Key.Bytes(), {bump}}
		if err := createAccount(ictx, payer, sequence, 8, program, seeds); err != nil {
			return 0, err
		}
	} else {
		if !sequence.IsOwnedBy(program) || len(sequence.Data()) < 8 {
			return 0, sandbox.ErrInvalidAccountData
		}
		current = binary.LittleEndian.Uint64(sequence.Data())
	}

	next := make([]byte, 8)
	binary.LittleEndian.PutUint64(next, current+1)
	if err := sequence.SetData(next); err != nil {
		return 0, err
	}
	return current, nil
}

// ReadSequence decodes a sequence tracker account: the next sequence the
// emitter will be assigned.
func ReadSequence(data []byte) (uint64, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[:8]), true
}
