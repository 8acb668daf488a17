package wormhole

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

// Verify VAA shim instruction selectors and account discriminator.
var (
	PostSignaturesSelector          = Selector("post_signatures")
	CloseSignaturesSelector         = Selector("close_signatures")
	VerifyHashSelector              = Selector("verify_hash")
	GuardianSignaturesDiscriminator = AccountDiscriminator("GuardianSignatures")
	guardianSignaturesHeaderLen     = 8 + 32 + 4 + 4
)

// PostSignaturesArgs is the post_signatures instruction payload.
type PostSignaturesArgs struct {
	GuardianSetIndex uint32
	TotalSignatures  uint8
	Signatures       []vaa.SignatureRecord
}

// VerifyHashArgs is the verify_hash instruction payload.
type VerifyHashArgs struct {
	GuardianSetBump uint8
	Digest          [32]byte
}

// NewPostSignaturesInstruction creates or extends a guardian signatures
// account. Both payer and the signatures account must sign.
func NewPostSignaturesInstruction(
	shim, payer, guardianSignatures solana.PublicKey,
	guardianSetIndex uint32,
	records []vaa.SignatureRecord,
) (solana.Instruction, error) {
	if len(records) > 255 {
		return nil, fmt.Errorf("too many signatures: %d", len(records))
	}
	data, err := encodeInstruction(PostSignaturesSelector, PostSignaturesArgs{
		GuardianSetIndex: guardianSetIndex,
		TotalSignatures:  uint8(len(records)),
		Signatures:       records,
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(shim, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(guardianSignatures).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewCloseSignaturesInstruction closes a guardian signatures account. The
// refund recipient must be the account's recorded recipient and must sign.
func NewCloseSignaturesInstruction(shim, guardianSignatures, refundRecipient solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(shim, solana.AccountMetaSlice{
		solana.Meta(guardianSignatures).WRITE(),
		solana.Meta(refundRecipient).WRITE().SIGNER(),
	}, append([]byte(nil), CloseSignaturesSelector[:]...))
}

// NewVerifyHashInstruction verifies digest against posted signatures.
func NewVerifyHashInstruction(shim, guardianSet, guardianSignatures solana.PublicKey, bump uint8, digest [32]byte) (solana.Instruction, error) {
	data, err := encodeInstruction(VerifyHashSelector, VerifyHashArgs{GuardianSetBump: bump, Digest: digest})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(shim, solana.AccountMetaSlice{
		solana.Meta(guardianSet),
		solana.Meta(guardianSignatures),
	}, data), nil
}

// GuardianSignatures is the account created by post_signatures.
type GuardianSignatures struct {
	RefundRecipient    solana.PublicKey
	GuardianSetIndexBE [4]byte
	Signatures         []vaa.SignatureRecord
}

// GuardianSetIndex returns the guardian set the signatures were posted for.
func (g *GuardianSignatures) GuardianSetIndex() uint32 {
	return binary.BigEndian.Uint32(g.GuardianSetIndexBE[:])
}

// GuardianSignaturesSpace is the account size needed for n signatures.
func GuardianSignaturesSpace(n int) int {
	return guardianSignaturesHeaderLen + n*vaa.SignatureLen
}

// Marshal encodes the account including its discriminator.
func (g *GuardianSignatures) Marshal() ([]byte, error) {
	return encodeInstruction(GuardianSignaturesDiscriminator, *g)
}

// ParseGuardianSignatures decodes a guardian signatures account.
func ParseGuardianSignatures(data []byte) (*GuardianSignatures, error) {
	if len(data) < guardianSignaturesHeaderLen || !bytes.Equal(data[:8], GuardianSignaturesDiscriminator[:]) {
		return nil, fmt.Errorf("not a guardian signatures account")
	}
	var out GuardianSignatures
	if err := bin.NewBorshDecoder(data[8:]).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode guardian signatures: %w", err)
	}
	return &out, nil
}

// DecodeInstruction checks the selector of data and decodes the rest into v.
func DecodeInstruction(selector [8]byte, data []byte, v interface{}) error {
	if len(data) < 8 || !bytes.Equal(data[:8], selector[:]) {
		return fmt.Errorf("unexpected instruction selector")
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return fmt.Errorf("failed to decode instruction data: %w", err)
	}
	return nil
}

// HasSelector reports whether data starts with selector.
func HasSelector(data []byte, selector [8]byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], selector[:])
}

func encodeInstruction(selector [8]byte, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(selector[:], false); err != nil {
		return nil, err
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode instruction data: %w", err)
	}
	return buf.Bytes(), nil
}
