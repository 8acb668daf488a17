package vaa

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Defaults applied by NewMessage.
const (
	DefaultTimestamp        uint32 = 1234567890
	DefaultConsistencyLevel uint8  = 1
)

// ReplayProtection selects whether the harness probes for replays.
type ReplayProtection int

const (
	// NonReplayable operations must reject a second delivery of the same VAA.
	NonReplayable ReplayProtection = iota
	// Replayable operations are idempotent and are not probed.
	Replayable
)

func (r ReplayProtection) String() string {
	if r == Replayable {
		return "replayable"
	}
	return "non-replayable"
}

// Checks selects the negative probes the harness runs in addition to the
// mandatory signature-mismatch probe.
type Checks struct {
	EmitterChain   bool
	EmitterAddress bool
	Replay         ReplayProtection
}

// DefaultChecks enables every probe.
func DefaultChecks() Checks {
	return Checks{EmitterChain: true, EmitterAddress: true, Replay: NonReplayable}
}

// Message describes an unsigned VAA for tests and simulations.
type Message struct {
	EmitterChain     uint16
	EmitterAddress   [32]byte
	Sequence         uint64
	Payload          []byte
	Timestamp        uint32
	Nonce            uint32
	ConsistencyLevel uint8
	GuardianSetIndex uint32
	Checks           Checks
}

// NewMessage builds a message with the default timestamp, nonce, consistency
// level, guardian set index and checks.
func NewMessage(emitterChain uint16, emitterAddress [32]byte, sequence uint64, payload []byte) Message {
	return Message{
		EmitterChain:     emitterChain,
		EmitterAddress:   emitterAddress,
		Sequence:         sequence,
		Payload:          payload,
		Timestamp:        DefaultTimestamp,
		ConsistencyLevel: DefaultConsistencyLevel,
		Checks:           DefaultChecks(),
	}
}

// EmitterAddressFrom20 right-aligns a 20-byte address in 32 bytes.
func EmitterAddressFrom20(addr [20]byte) [32]byte {
	var out [32]byte
	copy(out[12:], addr[:])
	return out
}

// VAA returns the unsigned SDK representation of m.
func (m Message) VAA() *vaaLib.VAA {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	return &vaaLib.VAA{
		Version:          vaaLib.SupportedVAAVersion,
		GuardianSetIndex: m.GuardianSetIndex,
		Timestamp:        time.Unix(int64(m.Timestamp), 0),
		Nonce:            m.Nonce,
		EmitterChain:     vaaLib.ChainID(m.EmitterChain),
		EmitterAddress:   vaaLib.Address(m.EmitterAddress),
		Sequence:         m.Sequence,
		ConsistencyLevel: m.ConsistencyLevel,
		Payload:          payload,
	}
}

// Body returns the body bytes.
func (m Message) Body() []byte {
	return Body(m.VAA())
}

// Digest returns the signing digest of the body.
func (m Message) Digest() common.Hash {
	return m.VAA().SigningDigest()
}

// Signatures signs the body with every guardian.
func (m Message) Signatures(guardians *GuardianSet) ([]SignatureRecord, error) {
	return guardians.Sign(m.Body())
}

// Sign returns the signed wire encoding using every guardian.
func (m Message) Sign(guardians *GuardianSet) ([]byte, error) {
	records, err := guardians.Sign(m.Body())
	if err != nil {
		return nil, err
	}
	return m.signed(records)
}

// SignWith returns the signed wire encoding using only the given guardians.
func (m Message) SignWith(guardians *GuardianSet, indices []uint8) ([]byte, error) {
	records, err := guardians.SignWith(m.Body(), indices)
	if err != nil {
		return nil, err
	}
	return m.signed(records)
}

func (m Message) signed(records []SignatureRecord) ([]byte, error) {
	v := m.VAA()
	v.Signatures = make([]*vaaLib.Signature, len(records))
	for i, rec := range records {
		sig := &vaaLib.Signature{Index: rec[0]}
		copy(sig.Signature[:], rec[1:])
		v.Signatures[i] = sig
	}
	return Marshal(v)
}
