package submitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// PostedSignatures is a guardian signatures account created by
// PostSignatures.
type PostedSignatures struct {
	// Signer is the ephemeral key the account was created at.
	Signer  solana.PrivateKey
	Address solana.PublicKey
}

// PostSignatures writes records into a new guardian signatures account owned
// by the Verify VAA Shim. The account lives at a fresh key that co-signs with
// the payer, who is recorded as the refund recipient.
func PostSignatures(
	ctx context.Context,
	conn clients.Connection,
	payer solana.PrivateKey,
	shim solana.PublicKey,
	guardianSetIndex uint32,
	records []vaa.SignatureRecord,
) (*PostedSignatures, error) {
	signer, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signatures account key: %w", err)
	}
	address := signer.PublicKey()

	ix, err := wormhole.NewPostSignaturesInstruction(shim, payer.PublicKey(), address, guardianSetIndex, records)
	if err != nil {
		return nil, err
	}
	if _, err := send(ctx, conn, []solana.Instruction{ix}, payer, signer); err != nil {
		return nil, connectionError(fmt.Errorf("failed to post signatures: %w", err))
	}
	return &PostedSignatures{Signer: signer, Address: address}, nil
}

// CloseSignatures closes a guardian signatures account, refunding its rent
// to refundRecipient, which must be the payer.
func CloseSignatures(
	ctx context.Context,
	conn clients.Connection,
	payer solana.PrivateKey,
	shim, signatures, refundRecipient solana.PublicKey,
) error {
	ix := wormhole.NewCloseSignaturesInstruction(shim, signatures, refundRecipient)
	if _, err := send(ctx, conn, []solana.Instruction{ix}, payer); err != nil {
		return connectionError(fmt.Errorf("failed to close signatures account %s: %w", signatures, err))
	}
	return nil
}

// send builds, signs and confirms a single payer-funded transaction.
func send(ctx context.Context, conn clients.Connection, instructions []solana.Instruction, payer solana.PrivateKey, cosigners ...solana.PrivateKey) (solana.Signature, error) {
	blockhash, err := conn.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to fetch blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	keys := append([]solana.PrivateKey{payer}, cosigners...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return conn.SendAndConfirm(ctx, tx)
}

// connectionError wraps err in clients.ErrConnection unless it already is one.
func connectionError(err error) error {
	if errors.Is(err, clients.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", clients.ErrConnection, err)
}
