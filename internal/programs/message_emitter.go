package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// EmitterSeed derives the emitter PDA of the message emitter.
var EmitterSeed = []byte("emitter")

// MessageEmitter posts Wormhole messages through the Post Message Shim,
// signing as its emitter PDA.
type MessageEmitter struct {
	Shim solana.PublicKey
}

// NewMessageEmitter returns an emitter posting through shim.
func NewMessageEmitter(shim solana.PublicKey) *MessageEmitter {
	return &MessageEmitter{Shim: shim}
}

// EmitterAddress derives the emitter PDA of the emitter deployed at program.
func EmitterAddress(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{EmitterSeed}, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive emitter address: %w", err)
	}
	return addr, bump, nil
}

// Process implements sandbox.Program.
func (p *MessageEmitter) Process(ictx *sandbox.InvokeContext) error {
	data := ictx.Data()
	if len(data) < 5 {
		ictx.Log("Error: Instruction data too short")
		return sandbox.ErrInvalidInstructionData
	}
	nonce := binary.LittleEndian.Uint32(data[0:4])
	finality := data[4]
	payload, err := readVec(data[5:])
	if err != nil {
		return err
	}
	ictx.Log("Emitting message: nonce=%d, finality=%d, payload_len=%d", nonce, finality, len(payload))

	accts, err := accounts(ictx, 11)
	if err != nil {
		return err
	}
	emitter, shim := accts[2], accts[10]

	expected, bump, err := EmitterAddress(ictx.ProgramID())
	if err != nil {
		return err
	}
	if !emitter.Key.Equals(expected) {
		ictx.Log("Error: Invalid emitter PDA")
		return sandbox.ErrInvalidSeeds
	}
	if !shim.Key.Equals(p.Shim) {
		ictx.Log("Error: Invalid Post Message Shim program ID")
		return sandbox.ErrIncorrectProgramID
	}

	post, err := wormhole.NewPostMessageInstruction(postMessageAccounts(accts), wormhole.PostMessageArgs{
		Nonce:    nonce,
		Finality: finality,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	return ictx.InvokeSigned(post, [][]byte{EmitterSeed, {bump}})
}

func postMessageAccounts(accts []*sandbox.AccountInfo) *wormhole.PostMessageAccounts {
	return &wormhole.PostMessageAccounts{
		BridgeConfig:   accts[0].Key,
		Message:        accts[1].Key,
		Emitter:        accts[2].Key,
		Sequence:       accts[3].Key,
		Payer:          accts[4].Key,
		FeeCollector:   accts[5].Key,
		CoreBridge:     accts[8].Key,
		EventAuthority: accts[9].Key,
		Shim:           accts[10].Key,
	}
}

// EmitMessageData encodes an emit instruction.
func EmitMessageData(nonce uint32, finality uint8, payload []byte) []byte {
	out := make([]byte, 0, 9+len(payload))
	out = binary.LittleEndian.AppendUint32(out, nonce)
	out = append(out, finality)
	return appendVec(out, payload)
}

// NewEmitMessageInstruction builds an emit instruction for the emitter at
// program. The emitter account is signed by the program itself.
func NewEmitMessageInstruction(program, payer, coreBridge, shim solana.PublicKey, nonce uint32, finality uint8, payload []byte) (solana.Instruction, error) {
	emitter, _, err := EmitterAddress(program)
	if err != nil {
		return nil, err
	}
	accounts, err := wormhole.DerivePostMessageAccounts(emitter, payer, coreBridge, shim)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(program, accounts.Metas(false), EmitMessageData(nonce, finality, payload)), nil
}
