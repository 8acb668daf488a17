package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// VAA verifier instructions.
const (
	VerifierIxVerify     byte = 0
	VerifierIxSkipVerify byte = 1
)

// VAAVerifier is the minimal VAA consumer: it hashes the body and has the
// Verify VAA Shim check the posted signatures. skip_verify accepts the body
// without that check and exists to exercise the harness.
type VAAVerifier struct {
	Shim solana.PublicKey
}

// NewVAAVerifier returns the verifier calling shim.
func NewVAAVerifier(shim solana.PublicKey) *VAAVerifier {
	return &VAAVerifier{Shim: shim}
}

// Process implements sandbox.Program.
func (p *VAAVerifier) Process(ictx *sandbox.InvokeContext) error {
	data := ictx.Data()
	if len(data) < 2 {
		ictx.Log("Error: Instruction data too short")
		return sandbox.ErrInvalidInstructionData
	}
	ix, bump := data[0], data[1]
	if ix != VerifierIxVerify && ix != VerifierIxSkipVerify {
		return sandbox.ErrInvalidInstructionData
	}
	body, err := readVec(data[2:])
	if err != nil {
		return err
	}
	accts, err := accounts(ictx, 4)
	if err != nil {
		return err
	}
	guardianSet, sigs, shim := accts[1], accts[2], accts[3]

	if len(body) >= vaa.MinBodyLen {
		ictx.Log("VAA body: chain=%d, sequence=%d",
			binary.BigEndian.Uint16(body[8:10]), binary.BigEndian.Uint64(body[42:50]))
	}

	if ix == VerifierIxSkipVerify {
		ictx.Log("SKIPPING VERIFICATION")
		return nil
	}

	if !shim.Key.Equals(p.Shim) {
		ictx.Log("Error: Invalid shim program ID")
		return sandbox.ErrIncorrectProgramID
	}
	verify, err := wormhole.NewVerifyHashInstruction(p.Shim, guardianSet.Key, sigs.Key, bump, vaa.Digest(body))
	if err != nil {
		return err
	}
	if err := ictx.Invoke(verify); err != nil {
		return err
	}
	ictx.Log("VAA verified, payload length %d", len(body)-vaa.MinBodyLen)
	return nil
}

// VerifierInstructionData encodes a verifier instruction.
func VerifierInstructionData(ix byte, guardianSetBump uint8, body []byte) []byte {
	out := make([]byte, 0, 6+len(body))
	out = append(out, ix, guardianSetBump)
	return appendVec(out, body)
}

// NewVerifyVAAInstruction builds a verify instruction for the verifier at
// program.
func NewVerifyVAAInstruction(program, shim, payer, guardianSet, sigs solana.PublicKey, bump uint8, body []byte) solana.Instruction {
	return newVerifierInstruction(program, shim, payer, guardianSet, sigs, VerifierInstructionData(VerifierIxVerify, bump, body))
}

// NewSkipVerifyInstruction builds the insecure skip_verify instruction.
func NewSkipVerifyInstruction(program, shim, payer, guardianSet, sigs solana.PublicKey, bump uint8, body []byte) solana.Instruction {
	return newVerifierInstruction(program, shim, payer, guardianSet, sigs, VerifierInstructionData(VerifierIxSkipVerify, bump, body))
}

func newVerifierInstruction(program, shim, payer, guardianSet, sigs solana.PublicKey, data []byte) solana.Instruction {
	return solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER(),
		solana.Meta(guardianSet),
		solana.Meta(sigs),
		solana.Meta(shim),
	}, data)
}

// GuardianSetBump derives the bump of the guardian set account for index.
func GuardianSetBump(index uint32, coreBridge solana.PublicKey) (uint8, error) {
	_, bump, err := wormhole.GuardianSetAddress(index, coreBridge)
	if err != nil {
		return 0, fmt.Errorf("failed to derive guardian set bump: %w", err)
	}
	return bump, nil
}
