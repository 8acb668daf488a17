package resolver

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrProtocol reports a resolver that returned no, garbled or unsupported
	// data, or did not resolve within the round budget.
	ErrProtocol = errors.New("resolver protocol error")
)

// ResolveSelector tags the resolve_execute_vaa_v1 instruction.
var ResolveSelector = [8]byte{239, 79, 248, 205, 14, 204, 32, 221}

// AccountMeta is an account reference as serialized by the resolver.
type AccountMeta struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an instruction as serialized by the resolver.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// InstructionGroup is a set of instructions submitted as one transaction.
type InstructionGroup struct {
	Instructions        []Instruction
	AddressLookupTables []solana.PublicKey
}

// MissingAccounts lists accounts the resolver wants on the next round.
type MissingAccounts struct {
	Accounts            []solana.PublicKey
	AddressLookupTables []solana.PublicKey
}

// OutcomeKind discriminates Outcome.
type OutcomeKind uint8

const (
	OutcomeResolved OutcomeKind = iota
	OutcomeMissing
	OutcomeAccount
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeMissing:
		return "missing"
	case OutcomeAccount:
		return "account"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// Outcome is the return data of one resolver simulation.
type Outcome struct {
	Kind    OutcomeKind
	Groups  []InstructionGroup
	Missing MissingAccounts
}

// Resolved builds a resolved outcome.
func Resolved(groups ...InstructionGroup) Outcome {
	return Outcome{Kind: OutcomeResolved, Groups: groups}
}

// Missing builds a missing-accounts outcome.
func Missing(accounts ...solana.PublicKey) Outcome {
	return Outcome{Kind: OutcomeMissing, Missing: MissingAccounts{Accounts: accounts}}
}

func (o Outcome) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(uint8(o.Kind)); err != nil {
		return err
	}
	switch o.Kind {
	case OutcomeResolved:
		return enc.Encode(o.Groups)
	case OutcomeMissing:
		return enc.Encode(o.Missing)
	case OutcomeAccount:
		return nil
	default:
		return fmt.Errorf("unknown outcome kind %d", o.Kind)
	}
}

func (o *Outcome) UnmarshalWithDecoder(dec *bin.Decoder) error {
	tag, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	o.Kind = OutcomeKind(tag)
	switch o.Kind {
	case OutcomeResolved:
		return dec.Decode(&o.Groups)
	case OutcomeMissing:
		return dec.Decode(&o.Missing)
	case OutcomeAccount:
		return nil
	default:
		return fmt.Errorf("unknown outcome variant %d", tag)
	}
}

// EncodeOutcome serializes an outcome as resolver return data.
func EncodeOutcome(o Outcome) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := o.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOutcome parses resolver return data.
func DecodeOutcome(data []byte) (*Outcome, error) {
	var out Outcome
	if err := out.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: failed to decode return data: %v", ErrProtocol, err)
	}
	return &out, nil
}

// EncodeResolveData builds resolve_execute_vaa_v1 instruction data.
func EncodeResolveData(body []byte) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(ResolveSelector[:], false)
	_ = enc.WriteBytes(body, true)
	return buf.Bytes()
}

// DecodeResolveData extracts the VAA body from resolve instruction data.
func DecodeResolveData(data []byte) ([]byte, error) {
	if len(data) < 12 || !bytes.Equal(data[:8], ResolveSelector[:]) {
		return nil, fmt.Errorf("not a resolve_execute_vaa_v1 instruction")
	}
	dec := bin.NewBorshDecoder(data[8:])
	body, err := dec.ReadByteSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to decode vaa body: %w", err)
	}
	return body, nil
}

// UsesRole reports whether any instruction in groups references the
// placeholder of role.
func UsesRole(groups []InstructionGroup, role Role) bool {
	addr := role.Address()
	for _, group := range groups {
		for _, ix := range group.Instructions {
			for _, meta := range ix.Accounts {
				if meta.Pubkey == addr {
					return true
				}
			}
		}
	}
	return false
}
