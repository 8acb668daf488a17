package sandbox

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// processSystem is the subset of the system program the sandbox programs
// and clients use: create account, assign, transfer and allocate.
func processSystem(ictx *InvokeContext) error {
	dec := bin.NewBinDecoder(ictx.Data())
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}

	switch tag {
	case system.Instruction_CreateAccount:
		lamports, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstructionData
		}
		space, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstructionData
		}
		owner, err := readPublicKey(dec)
		if err != nil {
			return err
		}
		return systemCreateAccount(ictx, lamports, space, owner)

	case system.Instruction_Assign:
		owner, err := readPublicKey(dec)
		if err != nil {
			return err
		}
		account, err := signerAccount(ictx, 0)
		if err != nil {
			return err
		}
		return account.Assign(owner)

	case system.Instruction_Transfer:
		lamports, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstructionData
		}
		from, err := signerAccount(ictx, 0)
		if err != nil {
			return err
		}
		to, err := ictx.Account(1)
		if err != nil {
			return err
		}
		if len(from.Data()) > 0 {
			ictx.Log("Transfer: `from` must not carry data")
			return ErrInvalidArgument
		}
		if err := from.Debit(lamports); err != nil {
			ictx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
			return CustomError(1)
		}
		return to.Credit(lamports)

	case system.Instruction_Allocate:
		space, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstructionData
		}
		account, err := signerAccount(ictx, 0)
		if err != nil {
			return err
		}
		return allocate(ictx, account, space)

	default:
		return fmt.Errorf("%w: system instruction %d", ErrInvalidInstructionData, tag)
	}
}

func systemCreateAccount(ictx *InvokeContext, lamports, space uint64, owner solana.PublicKey) error {
	from, err := signerAccount(ictx, 0)
	if err != nil {
		return err
	}
	to, err := signerAccount(ictx, 1)
	if err != nil {
		return err
	}
	if to.Lamports() > 0 {
		ictx.Log("Create Account: account %s already in use", to.Key)
		return CustomError(0)
	}
	if err := allocate(ictx, to, space); err != nil {
		return err
	}
	if err := to.Assign(owner); err != nil {
		return err
	}
	if len(from.Data()) > 0 {
		ictx.Log("Transfer: `from` must not carry data")
		return ErrInvalidArgument
	}
	if err := from.Debit(lamports); err != nil {
		ictx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return CustomError(1)
	}
	return to.Credit(lamports)
}

func allocate(ictx *InvokeContext, account *AccountInfo, space uint64) error {
	if len(account.Data()) > 0 || !account.IsOwnedBy(solana.SystemProgramID) {
		ictx.Log("Allocate: account %s already in use", account.Key)
		return CustomError(0)
	}
	if space > MaxAccountDataLen {
		return fmt.Errorf("%w: requested %d bytes", ErrInvalidArgument, space)
	}
	return account.SetData(make([]byte, space))
}

func signerAccount(ictx *InvokeContext, i int) (*AccountInfo, error) {
	account, err := ictx.Account(i)
	if err != nil {
		return nil, err
	}
	if !account.IsSigner {
		ictx.Log("%s must sign", account.Key)
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredSignature, account.Key)
	}
	return account, nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, ErrInvalidInstructionData
	}
	return solana.PublicKeyFromBytes(raw), nil
}
