package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/sandbox"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// VerifyShim is the Wormhole Verify VAA Shim: guardian signatures are posted
// to a temporary account, checked against a digest by verify_hash, and the
// account is closed afterwards.
type VerifyShim struct {
	CoreBridge solana.PublicKey
}

// NewVerifyShim returns the shim checking guardian sets of coreBridge.
func NewVerifyShim(coreBridge solana.PublicKey) *VerifyShim {
	return &VerifyShim{CoreBridge: coreBridge}
}

// Process implements sandbox.Program.
func (p *VerifyShim) Process(ictx *sandbox.InvokeContext) error {
	data := ictx.Data()
	switch {
	case wormhole.HasSelector(data, wormhole.PostSignaturesSelector):
		return p.postSignatures(ictx)
	case wormhole.HasSelector(data, wormhole.CloseSignaturesSelector):
		return p.closeSignatures(ictx)
	case wormhole.HasSelector(data, wormhole.VerifyHashSelector):
		return p.verifyHash(ictx)
	default:
		return sandbox.ErrInvalidInstructionData
	}
}

func (p *VerifyShim) postSignatures(ictx *sandbox.InvokeContext) error {
	ictx.Log("Instruction: PostSignatures")
	var args wormhole.PostSignaturesArgs
	if err := wormhole.DecodeInstruction(wormhole.PostSignaturesSelector, ictx.Data(), &args); err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	accts, err := accounts(ictx, 3)
	if err != nil {
		return err
	}
	payer, sigs := accts[0], accts[1]
	if !payer.IsSigner || !sigs.IsSigner {
		return sandbox.ErrMissingRequiredSignature
	}
	if len(args.Signatures) == 0 {
		return ErrEmptySignatures
	}

	if !sigs.Exists() {
		if len(args.Signatures) > int(args.TotalSignatures) {
			return ErrTooManySignatures
		}
		space := wormhole.GuardianSignaturesSpace(int(args.TotalSignatures))
		if err := createAccount(ictx, payer, sigs, space, ictx.ProgramID()); err != nil {
			return err
		}
		account := &wormhole.GuardianSignatures{
			RefundRecipient: payer.Key,
			Signatures:      args.Signatures,
		}
		binary.BigEndian.PutUint32(account.GuardianSetIndexBE[:], args.GuardianSetIndex)
		return writeGuardianSignatures(sigs, account, space)
	}

	if !sigs.IsOwnedBy(ictx.ProgramID()) {
		return sandbox.ErrIllegalOwner
	}
	account, err := wormhole.ParseGuardianSignatures(sigs.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidAccountData, err)
	}
	if account.GuardianSetIndex() != args.GuardianSetIndex {
		return ErrGuardianSetIndexMismatch
	}
	account.Signatures = append(account.Signatures, args.Signatures...)
	if wormhole.GuardianSignaturesSpace(len(account.Signatures)) > len(sigs.Data()) {
		return ErrTooManySignatures
	}
	return writeGuardianSignatures(sigs, account, len(sigs.Data()))
}

func writeGuardianSignatures(info *sandbox.AccountInfo, account *wormhole.GuardianSignatures, space int) error {
	data, err := account.Marshal()
	if err != nil {
		return err
	}
	out := make([]byte, space)
	copy(out, data)
	return info.SetData(out)
}

func (p *VerifyShim) closeSignatures(ictx *sandbox.InvokeContext) error {
	ictx.Log("Instruction: CloseSignatures")
	accts, err := accounts(ictx, 2)
	if err != nil {
		return err
	}
	sigs, recipient := accts[0], accts[1]
	if !sigs.IsOwnedBy(ictx.ProgramID()) {
		return sandbox.ErrIllegalOwner
	}
	account, err := wormhole.ParseGuardianSignatures(sigs.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidAccountData, err)
	}
	if !account.RefundRecipient.Equals(recipient.Key) {
		return ErrInvalidRefundRecipient
	}
	if !recipient.IsSigner {
		return sandbox.ErrMissingRequiredSignature
	}

	lamports := sigs.Lamports()
	if err := sigs.Debit(lamports); err != nil {
		return err
	}
	if err := recipient.Credit(lamports); err != nil {
		return err
	}
	if err := sigs.SetData(nil); err != nil {
		return err
	}
	return sigs.Assign(solana.SystemProgramID)
}

func (p *VerifyShim) verifyHash(ictx *sandbox.InvokeContext) error {
	ictx.Log("Instruction: VerifyHash")
	var args wormhole.VerifyHashArgs
	if err := wormhole.DecodeInstruction(wormhole.VerifyHashSelector, ictx.Data(), &args); err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidInstructionData, err)
	}
	accts, err := accounts(ictx, 2)
	if err != nil {
		return err
	}
	guardianSet, sigs := accts[0], accts[1]

	if !sigs.IsOwnedBy(ictx.ProgramID()) {
		return sandbox.ErrIllegalOwner
	}
	posted, err := wormhole.ParseGuardianSignatures(sigs.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrInvalidAccountData, err)
	}

	expected, err := solana.CreateProgramAddress(
		[][]byte{wormhole.GuardianSetSeed, posted.GuardianSetIndexBE[:], {args.GuardianSetBump}},
		p.CoreBridge,
	)
	if err != nil || !expected.Equals(guardianSet.Key) || !guardianSet.IsOwnedBy(p.CoreBridge) {
		return ErrInvalidGuardianSet
	}
	set, err := vaa.ParseGuardianSetData(guardianSet.Data())
	if err != nil {
		return ErrInvalidGuardianSet
	}
	if set.Index != posted.GuardianSetIndex() {
		return ErrGuardianSetIndexMismatch
	}
	if set.ExpirationTime != 0 && int64(set.ExpirationTime) < ictx.Clock().UnixTimestamp {
		return ErrGuardianSetExpired
	}

	quorum := len(set.Keys)*2/3 + 1
	if len(posted.Signatures) < quorum {
		ictx.Log("%d signatures, quorum is %d", len(posted.Signatures), quorum)
		return ErrNoQuorum
	}

	digest := common.Hash(args.Digest)
	last := -1
	for _, record := range posted.Signatures {
		index := int(record.GuardianIndex())
		if index <= last {
			return ErrNonIncreasingIndices
		}
		last = index
		if index >= len(set.Keys) {
			return ErrInvalidGuardianIndex
		}
		var sig [65]byte
		copy(sig[:], record[1:])
		signer, err := vaa.RecoverSigner(digest, sig)
		if err != nil || signer != common.Address(set.Keys[index]) {
			return ErrInvalidSignature
		}
	}
	return nil
}
