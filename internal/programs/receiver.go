package programs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/resolver"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// Receiver layout.
var (
	ExecuteVAASelector          = wormhole.Selector("execute_vaa")
	ReceiverConfigDiscriminator = wormhole.AccountDiscriminator("ReceiverConfig")

	ConfigSeed   = []byte("config")
	ConsumedSeed = []byte("consumed")
	ExtraSeed    = []byte("extra")
)

// ReceiptLen is the size of a receipt account: the digest of the executed VAA.
const ReceiptLen = 32

// ReceiverConfig names the one emitter a receiver accepts messages from.
type ReceiverConfig struct {
	EmitterChain   uint16
	EmitterAddress [32]byte
}

// Marshal encodes the config account including its discriminator.
func (c ReceiverConfig) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(ReceiverConfigDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseReceiverConfig decodes a config account.
func ParseReceiverConfig(data []byte) (*ReceiverConfig, error) {
	if !wormhole.HasSelector(data, ReceiverConfigDiscriminator) {
		return nil, fmt.Errorf("not a receiver config account")
	}
	var out ReceiverConfig
	if err := bin.NewBorshDecoder(data[8:]).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode receiver config: %w", err)
	}
	return &out, nil
}

// Receiver is a VAA consumer exposing the executor resolver entrypoint. Each
// safety check it normally performs can be switched off to model a flawed
// integration.
type Receiver struct {
	Shim       solana.PublicKey
	CoreBridge solana.PublicKey

	SkipVerify           bool
	IgnoreEmitterChain   bool
	IgnoreEmitterAddress bool
	SkipConsume          bool
	// WriteReceipt adds a group creating a receipt account with a generated
	// signer ahead of the execute group.
	WriteReceipt bool
	// ResolveRounds is how many rounds the resolver reports missing accounts
	// before resolving. Values below one mean one.
	ResolveRounds int
}

// NewReceiver returns a receiver performing every check.
func NewReceiver(shim, coreBridge solana.PublicKey) *Receiver {
	return &Receiver{Shim: shim, CoreBridge: coreBridge, ResolveRounds: 1}
}

// InstallReceiver registers r at program and seeds its config account.
func InstallReceiver(ledger *sandbox.Ledger, program solana.PublicKey, r *Receiver, config ReceiverConfig) error {
	address, _, err := ConfigAddress(program)
	if err != nil {
		return err
	}
	data, err := config.Marshal()
	if err != nil {
		return err
	}
	ledger.AddProgram(program, r)
	ledger.SetAccount(address, clients.Account{
		Lamports: ledger.MinimumBalance(len(data)),
		Data:     data,
		Owner:    program,
	})
	return nil
}

// ConfigAddress derives the config account of the receiver at program.
func ConfigAddress(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{ConfigSeed}, program)
}

// ConsumedAddress derives the replay marker of one message.
func ConsumedAddress(program solana.PublicKey, chain uint16, emitter [32]byte, sequence uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(consumedSeeds(chain, emitter, sequence), program)
}

func consumedSeeds(chain uint16, emitter [32]byte, sequence uint64) [][]byte {
	return [][]byte{
		ConsumedSeed,
		binary.BigEndian.AppendUint16(nil, chain),
		emitter[:],
		binary.BigEndian.AppendUint64(nil, sequence),
	}
}

// ExtraAddress derives the filler account requested on resolve round i.
func ExtraAddress(program solana.PublicKey, i int) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{ExtraSeed, {byte(i)}}, program)
	return addr, err
}

// ExecuteVAAData encodes an execute_vaa instruction.
func ExecuteVAAData(body []byte) []byte {
	return appendVec(append([]byte(nil), ExecuteVAASelector[:]...), body)
}

// NewExecuteVAAInstruction builds execute_vaa for the receiver at program.
// receipt is only passed to receivers writing receipts.
func NewExecuteVAAInstruction(program, shim, payer, guardianSet, sigs solana.PublicKey, body []byte, receipt *solana.PublicKey) (solana.Instruction, error) {
	parsed, err := vaa.ParseBody(body)
	if err != nil {
		return nil, err
	}
	config, _, err := ConfigAddress(program)
	if err != nil {
		return nil, err
	}
	consumed, _, err := ConsumedAddress(program, uint16(parsed.EmitterChain), parsed.EmitterAddress, parsed.Sequence)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(config),
		solana.Meta(guardianSet),
		solana.Meta(sigs),
		solana.Meta(consumed).WRITE(),
		solana.Meta(shim),
		solana.Meta(solana.SystemProgramID),
	}
	if receipt != nil {
		metas = append(metas, solana.Meta(*receipt).WRITE())
	}
	return solana.NewInstruction(program, metas, ExecuteVAAData(body)), nil
}

// Process implements sandbox.Program.
func (p *Receiver) Process(ictx *sandbox.InvokeContext) error {
	data := ictx.Data()
	switch {
	case wormhole.HasSelector(data, resolver.ResolveSelector):
		return p.resolve(ictx)
	case wormhole.HasSelector(data, ExecuteVAASelector):
		return p.execute(ictx)
	default:
		return sandbox.ErrInvalidInstructionData
	}
}

func (p *Receiver) rounds() int {
	if p.ResolveRounds < 1 {
		return 1
	}
	return p.ResolveRounds
}

func (p *Receiver) resolve(ictx *sandbox.InvokeContext) error {
	body, err := resolver.DecodeResolveData(ictx.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	program := ictx.ProgramID()
	config, _, err := ConfigAddress(program)
	if err != nil {
		return err
	}

	required := [][]solana.PublicKey{{config, resolver.RoleGuardianSet.Address()}}
	for i := 1; i < p.rounds(); i++ {
		extra, err := ExtraAddress(program, i)
		if err != nil {
			return err
		}
		required = append(required, []solana.PublicKey{extra})
	}

	have, seen := len(ictx.Accounts()), 0
	for _, chunk := range required {
		if have < seen+len(chunk) {
			return setOutcome(ictx, resolver.Missing(chunk...))
		}
		seen += len(chunk)
	}

	guardianSet := ictx.Accounts()[1].Key
	groups, err := p.plan(program, guardianSet, body, ictx.MinimumBalance(ReceiptLen))
	if err != nil {
		return err
	}
	return setOutcome(ictx, resolver.Resolved(groups...))
}

func (p *Receiver) plan(program, guardianSet solana.PublicKey, body []byte, receiptRent uint64) ([]resolver.InstructionGroup, error) {
	payer := resolver.RolePayer.Address()
	var receipt *solana.PublicKey
	var groups []resolver.InstructionGroup

	if p.WriteReceipt {
		addr := resolver.GeneratedSigner(0).Address()
		receipt = &addr
		create := system.NewCreateAccountInstruction(receiptRent, ReceiptLen, program, payer, addr).Build()
		ix, err := toResolverInstruction(create)
		if err != nil {
			return nil, err
		}
		groups = append(groups, resolver.InstructionGroup{Instructions: []resolver.Instruction{ix}})
	}

	execute, err := NewExecuteVAAInstruction(program, p.Shim, payer, guardianSet, resolver.RoleSignaturesAccount.Address(), body, receipt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	ix, err := toResolverInstruction(execute)
	if err != nil {
		return nil, err
	}
	return append(groups, resolver.InstructionGroup{Instructions: []resolver.Instruction{ix}}), nil
}

func (p *Receiver) execute(ictx *sandbox.InvokeContext) error {
	ictx.Log("Instruction: ExecuteVaa")
	body, err := readVec(ictx.Data()[8:])
	if err != nil {
		return err
	}
	parsed, err := vaa.ParseBody(body)
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	accts, err := accounts(ictx, 7)
	if err != nil {
		return err
	}
	payer, configInfo, guardianSet, sigs, consumed, shim := accts[0], accts[1], accts[2], accts[3], accts[4], accts[5]
	program := ictx.ProgramID()

	if !payer.IsSigner {
		return sandbox.ErrMissingRequiredSignature
	}
	expectedConfig, _, err := ConfigAddress(program)
	if err != nil {
		return err
	}
	if !configInfo.Key.Equals(expectedConfig) || !configInfo.IsOwnedBy(program) {
		return ErrInvalidConfig
	}
	config, err := ParseReceiverConfig(configInfo.Data())
	if err != nil {
		return ErrInvalidConfig
	}

	digest := vaa.Digest(body)
	if !p.SkipVerify {
		if !shim.Key.Equals(p.Shim) {
			return sandbox.ErrIncorrectProgramID
		}
		set, err := vaa.ParseGuardianSetData(guardianSet.Data())
		if err != nil {
			return ErrInvalidGuardianSet
		}
		bump, err := GuardianSetBump(set.Index, p.CoreBridge)
		if err != nil {
			return err
		}
		verify, err := wormhole.NewVerifyHashInstruction(p.Shim, guardianSet.Key, sigs.Key, bump, digest)
		if err != nil {
			return err
		}
		if err := ictx.Invoke(verify); err != nil {
			return err
		}
	}

	chain := uint16(parsed.EmitterChain)
	if !p.IgnoreEmitterChain && chain != config.EmitterChain {
		ictx.Log("unexpected emitter chain %d", chain)
		return ErrUnexpectedEmitterChain
	}
	if !p.IgnoreEmitterAddress && parsed.EmitterAddress != config.EmitterAddress {
		ictx.Log("unexpected emitter address %s", parsed.EmitterAddress)
		return ErrUnexpectedEmitterAddress
	}

	if !p.SkipConsume {
		seeds := consumedSeeds(chain, parsed.EmitterAddress, parsed.Sequence)
		expected, bump, err := solana.FindProgramAddress(seeds, program)
		if err != nil {
			return err
		}
		if !consumed.Key.Equals(expected) {
			return fmt.Errorf("%w: consumed account", sandbox.ErrInvalidSeeds)
		}
		if consumed.Exists() {
			return ErrAlreadyConsumed
		}
		if err := createAccount(ictx, payer, consumed, 0, program, append(seeds, []byte{bump})); err != nil {
			return err
		}
	}

	if p.WriteReceipt {
		receipt, err := ictx.Account(7)
		if err != nil {
			return err
		}
		if !receipt.IsOwnedBy(program) || len(receipt.Data()) != ReceiptLen {
			return ErrInvalidReceipt
		}
		if err := receipt.SetData(digest[:]); err != nil {
			return err
		}
	}

	ictx.Log("VAA executed: chain=%d, sequence=%d, payload_len=%d", chain, parsed.Sequence, len(parsed.Payload))
	return nil
}

func setOutcome(ictx *sandbox.InvokeContext, outcome resolver.Outcome) error {
	data, err := resolver.EncodeOutcome(outcome)
	if err != nil {
		return err
	}
	return ictx.SetReturnData(data)
}

func toResolverInstruction(ix solana.Instruction) (resolver.Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return resolver.Instruction{}, err
	}
	metas := ix.Accounts()
	out := resolver.Instruction{
		ProgramID: ix.ProgramID(),
		Accounts:  make([]resolver.AccountMeta, len(metas)),
		Data:      data,
	}
	for i, m := range metas {
		out.Accounts[i] = resolver.AccountMeta{Pubkey: m.PublicKey, IsSigner: m.IsSigner, IsWritable: m.IsWritable}
	}
	return out, nil
}
