package submitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/resolver"
)

// Execute submits each resolved instruction group as one transaction, in
// order, stopping at the first failure. Placeholders are replaced with the
// payer, the signatures account, the guardian set and fresh keys for the
// generated signer slots the plan references. Each generated key is created
// once and shared by every group that names its slot.
func Execute(
	ctx context.Context,
	logger *zap.Logger,
	conn clients.Connection,
	payer solana.PrivateKey,
	groups []resolver.InstructionGroup,
	signaturesAccount, guardianSet solana.PublicKey,
) ([]solana.Signature, error) {
	logger = logger.With(zap.String("component", "Executor"))

	subst, err := newSubstitution(payer.PublicKey(), signaturesAccount, guardianSet, groups)
	if err != nil {
		return nil, err
	}

	sigs := make([]solana.Signature, 0, len(groups))
	for i, group := range groups {
		tx, err := subst.transaction(ctx, conn, payer, group)
		if err != nil {
			return sigs, fmt.Errorf("%w: group %d: %w", ErrExecution, i, err)
		}
		sig, err := conn.SendAndConfirm(ctx, tx)
		if err != nil {
			return sigs, fmt.Errorf("%w: group %d: %w", ErrExecution, i, err)
		}
		logger.Debug("Instruction group confirmed",
			zap.Int("group", i),
			zap.Int("instructions", len(group.Instructions)),
			zap.Stringer("signature", sig))
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

type substitution struct {
	payer             solana.PublicKey
	signaturesAccount solana.PublicKey
	guardianSet       solana.PublicKey
	generated         map[int]solana.PrivateKey
}

func newSubstitution(payer, signaturesAccount, guardianSet solana.PublicKey, groups []resolver.InstructionGroup) (*substitution, error) {
	s := &substitution{
		payer:             payer,
		signaturesAccount: signaturesAccount,
		guardianSet:       guardianSet,
		generated:         make(map[int]solana.PrivateKey),
	}
	for _, slot := range generatedSlots(groups) {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to generate signer: %w", ErrExecution, err)
		}
		s.generated[slot] = key
	}
	return s, nil
}

// generatedSlots lists the generated signer slots referenced anywhere in the
// plan, in first-use order.
func generatedSlots(groups []resolver.InstructionGroup) []int {
	seen := make(map[int]bool)
	var out []int
	for _, g := range groups {
		for _, ix := range g.Instructions {
			for _, acct := range ix.Accounts {
				role, ok := resolver.RoleOf(acct.Pubkey)
				if !ok {
					continue
				}
				if slot, ok := role.GeneratedSlot(); ok && !seen[slot] {
					seen[slot] = true
					out = append(out, slot)
				}
			}
		}
	}
	return out
}

func (s *substitution) address(addr solana.PublicKey) solana.PublicKey {
	role, ok := resolver.RoleOf(addr)
	if !ok {
		return addr
	}
	switch role {
	case resolver.RolePayer:
		return s.payer
	case resolver.RoleSignaturesAccount:
		return s.signaturesAccount
	case resolver.RoleGuardianSet:
		return s.guardianSet
	}
	if slot, ok := role.GeneratedSlot(); ok {
		return s.generated[slot].PublicKey()
	}
	return addr
}

func (s *substitution) instruction(ix resolver.Instruction) solana.Instruction {
	metas := make(solana.AccountMetaSlice, len(ix.Accounts))
	for i, acct := range ix.Accounts {
		metas[i] = &solana.AccountMeta{
			PublicKey:  s.address(acct.Pubkey),
			IsSigner:   acct.IsSigner,
			IsWritable: acct.IsWritable,
		}
	}
	return solana.NewInstruction(s.address(ix.ProgramID), metas, ix.Data)
}

func (s *substitution) transaction(ctx context.Context, conn clients.Connection, payer solana.PrivateKey, group resolver.InstructionGroup) (*solana.Transaction, error) {
	if len(group.Instructions) == 0 {
		return nil, errors.New("empty instruction group")
	}
	instructions := make([]solana.Instruction, len(group.Instructions))
	for i, ix := range group.Instructions {
		instructions[i] = s.instruction(ix)
	}

	blockhash, err := conn.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(s.payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	for _, key := range tx.Message.AccountKeys {
		if role, ok := resolver.RoleOf(key); ok {
			return nil, fmt.Errorf("unsubstituted %s placeholder %s", role, key)
		}
	}

	signers := map[solana.PublicKey]*solana.PrivateKey{s.payer: &payer}
	for slot := range s.generated {
		key := s.generated[slot]
		signers[key.PublicKey()] = &key
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		return signers[key]
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
