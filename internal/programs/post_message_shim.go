package programs

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// PostMessageShim is the Wormhole Post Message Shim. It posts through the
// core bridge with an empty payload into a message account it reuses per
// emitter, and emits the payload-carrying MessageEvent through a self-CPI so
// the message can be observed from instruction data alone.
type PostMessageShim struct {
	CoreBridge solana.PublicKey
}

// NewPostMessageShim returns the shim posting through coreBridge.
func NewPostMessageShim(coreBridge solana.PublicKey) *PostMessageShim {
	return &PostMessageShim{CoreBridge: coreBridge}
}

// Process implements sandbox.Program.
func (p *PostMessageShim) Process(ictx *sandbox.InvokeContext) error {
	data := ictx.Data()
	switch {
	case wormhole.HasSelector(data, wormhole.EventInstructionTag):
		return p.emitEvent(ictx)
	case wormhole.HasSelector(data, wormhole.PostMessageSelector):
		return p.postMessage(ictx)
	default:
		return sandbox.ErrInvalidInstructionData
	}
}

func (p *PostMessageShim) emitEvent(ictx *sandbox.InvokeContext) error {
	authority, err := ictx.Account(0)
	if err != nil {
		return err
	}
	expected, _, err := wormhole.EventAuthorityAddress(ictx.ProgramID())
	if err != nil {
		return err
	}
	if !authority.IsSigner || !authority.Key.Equals(expected) {
		return sandbox.ErrMissingRequiredSignature
	}
	return nil
}

func (p *PostMessageShim) postMessage(ictx *sandbox.InvokeContext) error {
	ictx.Log("Instruction: PostMessage")
	args, ok := wormhole.ParsePostMessage(ictx.Data())
	if !ok {
		return sandbox.ErrInvalidInstructionData
	}
	if args.Finality > wormhole.FinalityFinalized {
		return ErrInvalidFinality
	}

	accts, err := accounts(ictx, 11)
	if err != nil {
		return err
	}
	bridge, message, emitter, sequence, payer, feeCollector := accts[0], accts[1], accts[2], accts[3], accts[4], accts[5]
	clock, system, coreBridge, eventAuthority := accts[6], accts[7], accts[8], accts[9]
	program := ictx.ProgramID()

	if !coreBridge.Key.Equals(p.CoreBridge) {
		return sandbox.ErrIncorrectProgramID
	}
	if !emitter.IsSigner {
		return fmt.Errorf("%w: emitter", sandbox.ErrMissingRequiredSignature)
	}
	expectedMessage, messageBump, err := wormhole.ShimMessageAddress(emitter.Key, program)
	if err != nil {
		return err
	}
	if !message.Key.Equals(expectedMessage) {
		return fmt.Errorf("%w: message account", sandbox.ErrInvalidSeeds)
	}
	expectedAuthority, authorityBump, err := wormhole.EventAuthorityAddress(program)
	if err != nil {
		return err
	}
	if !eventAuthority.Key.Equals(expectedAuthority) {
		return fmt.Errorf("%w: event authority", sandbox.ErrInvalidSeeds)
	}

	var seq uint64
	if sequence.Exists() {
		seq, _ = ReadSequence(sequence.Data())
	}

	coreData, err := wormhole.EncodeCorePostMessage(wormhole.CorePostMessageArgs{
		Nonce:            args.Nonce,
		ConsistencyLevel: args.Finality,
	})
	if err != nil {
		return err
	}
	post := solana.NewInstruction(p.CoreBridge, solana.AccountMetaSlice{
		solana.Meta(bridge.Key).WRITE(),
		solana.Meta(message.Key).WRITE().SIGNER(),
		solana.Meta(emitter.Key).SIGNER(),
		solana.Meta(sequence.Key).WRITE(),
		solana.Meta(payer.Key).WRITE().SIGNER(),
		solana.Meta(feeCollector.Key).WRITE(),
		solana.Meta(clock.Key),
		solana.Meta(system.Key),
	}, coreData)
	if err := ictx.InvokeSigned(post, [][]byte{emitter.Key.Bytes(), {messageBump}}); err != nil {
		return err
	}

	event := wormhole.MessageEvent{
		Emitter:        emitter.Key,
		Sequence:       seq,
		SubmissionTime: uint32(ictx.Clock().UnixTimestamp),
	}
	emit := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(eventAuthority.Key).SIGNER(),
	}, event.Marshal())
	return ictx.InvokeSigned(emit, [][]byte{wormhole.EventAuthoritySeed, {authorityBump}})
}
