package wormhole

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

// Finality levels accepted by the post message shim.
const (
	FinalityConfirmed uint8 = 0
	FinalityFinalized uint8 = 1
)

// Core bridge instruction tag for post_message_unreliable.
const CoreBridgePostMessageUnreliable uint8 = 8

// Post message shim selectors.
var (
	PostMessageSelector        = Selector("post_message")
	MessageEventDiscriminator  = EventDiscriminator("MessageEvent")
	EventInstructionTag        = [8]byte{228, 69, 165, 46, 81, 203, 154, 29}
	postMessageHeaderLen       = 8 + 4 + 1 + 4
	messageEventLen            = 8 + 8 + 32 + 8 + 4
	unreliableMessageMagic     = []byte("msu")
	unreliableMessageHeaderLen = 3 + 1 + 1 + 4 + 32 + 4 + 4 + 8 + 2 + 32 + 4
)

// PostMessageArgs is the post_message instruction payload.
type PostMessageArgs struct {
	Nonce    uint32
	Finality uint8
	Payload  []byte
}

// CorePostMessageArgs is the core bridge post_message_unreliable payload.
type CorePostMessageArgs struct {
	Nonce            uint32
	Payload          []byte
	ConsistencyLevel uint8
}

// PostMessageAccounts are the accounts of a post_message call for emitter.
type PostMessageAccounts struct {
	BridgeConfig   solana.PublicKey
	Message        solana.PublicKey
	Emitter        solana.PublicKey
	Sequence       solana.PublicKey
	Payer          solana.PublicKey
	FeeCollector   solana.PublicKey
	EventAuthority solana.PublicKey
	CoreBridge     solana.PublicKey
	Shim           solana.PublicKey
}

// DerivePostMessageAccounts derives every account post_message needs.
func DerivePostMessageAccounts(emitter, payer, coreBridge, shim solana.PublicKey) (*PostMessageAccounts, error) {
	config, _, err := BridgeConfigAddress(coreBridge)
	if err != nil {
		return nil, err
	}
	message, _, err := ShimMessageAddress(emitter, shim)
	if err != nil {
		return nil, err
	}
	sequence, _, err := EmitterSequenceAddress(emitter, coreBridge)
	if err != nil {
		return nil, err
	}
	feeCollector, _, err := FeeCollectorAddress(coreBridge)
	if err != nil {
		return nil, err
	}
	eventAuthority, _, err := EventAuthorityAddress(shim)
	if err != nil {
		return nil, err
	}
	return &PostMessageAccounts{
		BridgeConfig:   config,
		Message:        message,
		Emitter:        emitter,
		Sequence:       sequence,
		Payer:          payer,
		FeeCollector:   feeCollector,
		EventAuthority: eventAuthority,
		CoreBridge:     coreBridge,
		Shim:           shim,
	}, nil
}

// Metas lists the accounts in post_message order. The emitter is marked as
// signer when emitterSigns is set; programs calling through CPI sign it with
// their seeds instead.
func (a *PostMessageAccounts) Metas(emitterSigns bool) solana.AccountMetaSlice {
	emitter := solana.Meta(a.Emitter)
	if emitterSigns {
		emitter = emitter.SIGNER()
	}
	return solana.AccountMetaSlice{
		solana.Meta(a.BridgeConfig).WRITE(),
		solana.Meta(a.Message).WRITE(),
		emitter,
		solana.Meta(a.Sequence).WRITE(),
		solana.Meta(a.Payer).WRITE().SIGNER(),
		solana.Meta(a.FeeCollector).WRITE(),
		solana.Meta(solana.SysVarClockPubkey),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(a.CoreBridge),
		solana.Meta(a.EventAuthority),
		solana.Meta(a.Shim),
	}
}

// EncodePostMessageArgs encodes post_message instruction data.
func EncodePostMessageArgs(args PostMessageArgs) ([]byte, error) {
	return encodeInstruction(PostMessageSelector, args)
}

// NewPostMessageInstruction posts a message through the shim.
func NewPostMessageInstruction(accounts *PostMessageAccounts, args PostMessageArgs) (solana.Instruction, error) {
	data, err := EncodePostMessageArgs(args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(accounts.Shim, accounts.Metas(true), data), nil
}

// EncodeCorePostMessage encodes a core bridge post_message_unreliable call.
func EncodeCorePostMessage(args CorePostMessageArgs) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(CoreBridgePostMessageUnreliable); err != nil {
		return nil, err
	}
	if err := enc.Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode post message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCorePostMessage decodes a core bridge post_message_unreliable call.
func DecodeCorePostMessage(data []byte) (*CorePostMessageArgs, error) {
	if len(data) < 1 || data[0] != CoreBridgePostMessageUnreliable {
		return nil, fmt.Errorf("unsupported core bridge instruction")
	}
	var out CorePostMessageArgs
	if err := bin.NewBorshDecoder(data[1:]).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode post message: %w", err)
	}
	return &out, nil
}

// MessageEvent is emitted by the post message shim through a self-CPI.
type MessageEvent struct {
	Emitter        solana.PublicKey
	Sequence       uint64
	SubmissionTime uint32
}

// Marshal encodes the event as self-CPI instruction data.
func (e MessageEvent) Marshal() []byte {
	out := make([]byte, 0, messageEventLen)
	out = append(out, EventInstructionTag[:]...)
	out = append(out, MessageEventDiscriminator[:]...)
	out = append(out, e.Emitter.Bytes()...)
	out = binary.LittleEndian.AppendUint64(out, e.Sequence)
	out = binary.LittleEndian.AppendUint32(out, e.SubmissionTime)
	return out
}

// ParseMessageEvent decodes self-CPI event data. The first eight bytes are
// the CPI tag and are not checked.
func ParseMessageEvent(data []byte) (*MessageEvent, bool) {
	if len(data) < messageEventLen || !bytes.Equal(data[8:16], MessageEventDiscriminator[:]) {
		return nil, false
	}
	ev := data[16:]
	return &MessageEvent{
		Emitter:        solana.PublicKeyFromBytes(ev[:32]),
		Sequence:       binary.LittleEndian.Uint64(ev[32:40]),
		SubmissionTime: binary.LittleEndian.Uint32(ev[40:44]),
	}, true
}

// ParsePostMessage decodes post_message instruction data.
func ParsePostMessage(data []byte) (*PostMessageArgs, bool) {
	if len(data) < postMessageHeaderLen || !HasSelector(data, PostMessageSelector) {
		return nil, false
	}
	payloadLen := int(binary.LittleEndian.Uint32(data[13:17]))
	if len(data) < postMessageHeaderLen+payloadLen {
		return nil, false
	}
	return &PostMessageArgs{
		Nonce:    binary.LittleEndian.Uint32(data[8:12]),
		Finality: data[12],
		Payload:  append([]byte(nil), data[17:17+payloadLen]...),
	}, true
}

// PostedMessage is a message captured from a transaction that posted
// through the shim.
type PostedMessage struct {
	Emitter          solana.PublicKey
	EmitterChain     uint16
	Sequence         uint64
	Payload          []byte
	Nonce            uint32
	ConsistencyLevel uint8
	Timestamp        uint32
}

// Message converts m into an unsigned VAA message.
func (m PostedMessage) Message() vaa.Message {
	msg := vaa.NewMessage(m.EmitterChain, m.Emitter, m.Sequence, m.Payload)
	msg.Timestamp = m.Timestamp
	msg.Nonce = m.Nonce
	msg.ConsistencyLevel = m.ConsistencyLevel
	return msg
}

// PostedMessages pairs post_message calls with message events found in
// instruction data, in order. The Nth call pairs with the Nth event.
func PostedMessages(instructionData [][]byte) []PostedMessage {
	var (
		calls  []*PostMessageArgs
		events []*MessageEvent
	)
	for _, data := range instructionData {
		if call, ok := ParsePostMessage(data); ok {
			calls = append(calls, call)
		}
		if event, ok := ParseMessageEvent(data); ok {
			events = append(events, event)
		}
	}

	n := len(calls)
	if len(events) < n {
		n = len(events)
	}
	out := make([]PostedMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PostedMessage{
			Emitter:          events[i].Emitter,
			EmitterChain:     ChainIDSolana,
			Sequence:         events[i].Sequence,
			Payload:          calls[i].Payload,
			Nonce:            calls[i].Nonce,
			ConsistencyLevel: calls[i].Finality,
			Timestamp:        events[i].SubmissionTime,
		})
	}
	return out
}

// UnreliableMessage is the core bridge message account written by
// post_message_unreliable.
type UnreliableMessage struct {
	ConsistencyLevel uint8
	SubmissionTime   uint32
	Nonce            uint32
	Sequence         uint64
	EmitterChain     uint16
	EmitterAddress   solana.PublicKey
	Payload          []byte
}

// UnreliableMessageSpace is the account size for a payload of n bytes.
func UnreliableMessageSpace(n int) int {
	return unreliableMessageHeaderLen + n
}

// Marshal encodes the account.
func (m *UnreliableMessage) Marshal() []byte {
	out := make([]byte, 0, UnreliableMessageSpace(len(m.Payload)))
	out = append(out, unreliableMessageMagic...)
	out = append(out, 0, m.ConsistencyLevel) // vaa version, consistency
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = append(out, make([]byte, 32)...) // signature account, unused
	out = binary.LittleEndian.AppendUint32(out, m.SubmissionTime)
	out = binary.LittleEndian.AppendUint32(out, m.Nonce)
	out = binary.LittleEndian.AppendUint64(out, m.Sequence)
	out = binary.LittleEndian.AppendUint16(out, m.EmitterChain)
	out = append(out, m.EmitterAddress.Bytes()...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(m.Payload)))
	out = append(out, m.Payload...)
	return out
}

// ParseUnreliableMessage decodes a message account.
func ParseUnreliableMessage(data []byte) (*UnreliableMessage, error) {
	if len(data) < unreliableMessageHeaderLen || !bytes.Equal(data[:3], unreliableMessageMagic) {
		return nil, fmt.Errorf("not an unreliable message account")
	}
	payloadLen := int(binary.LittleEndian.Uint32(data[unreliableMessageHeaderLen-4 : unreliableMessageHeaderLen]))
	if len(data) < unreliableMessageHeaderLen+payloadLen {
		return nil, fmt.Errorf("message account truncated")
	}
	return &UnreliableMessage{
		ConsistencyLevel: data[4],
		SubmissionTime:   binary.LittleEndian.Uint32(data[41:45]),
		Nonce:            binary.LittleEndian.Uint32(data[45:49]),
		Sequence:         binary.LittleEndian.Uint64(data[49:57]),
		EmitterChain:     binary.LittleEndian.Uint16(data[57:59]),
		EmitterAddress:   solana.PublicKeyFromBytes(data[59:91]),
		Payload:          append([]byte(nil), data[unreliableMessageHeaderLen:unreliableMessageHeaderLen+payloadLen]...),
	}, nil
}
