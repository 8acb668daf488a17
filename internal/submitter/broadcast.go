package submitter

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/resolver"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// BroadcastParams names the target program and the Wormhole deployment a
// VAA is verified against.
type BroadcastParams struct {
	ProgramID        solana.PublicKey
	CoreBridge       solana.PublicKey
	VerifyShim       solana.PublicKey
	GuardianSetIndex uint32
	// MaxRounds bounds account resolution, resolver.DefaultMaxRounds when zero.
	MaxRounds int
}

// BroadcastResult reports a completed broadcast.
type BroadcastResult struct {
	// Signatures are the confirmed execution transactions, one per group.
	Signatures        []solana.Signature
	Iterations        int
	SignaturesAccount solana.PublicKey
}

// Broadcast resolves what the target program needs to execute body, posts
// the guardian signatures, executes the resolved plan and closes the
// signatures account again. The account is closed whether or not execution
// succeeded; a failed close is logged and does not change the result.
func Broadcast(
	ctx context.Context,
	logger *zap.Logger,
	conn clients.Connection,
	payer solana.PrivateKey,
	params BroadcastParams,
	body []byte,
	records []vaa.SignatureRecord,
) (*BroadcastResult, error) {
	logger = logger.With(zap.String("component", "Broadcast"), zap.Stringer("program", params.ProgramID))
	shim := params.VerifyShim
	if shim.IsZero() {
		shim = wormhole.VerifyVAAShimProgramID
	}

	guardianSet, _, err := wormhole.GuardianSetAddress(params.GuardianSetIndex, params.CoreBridge)
	if err != nil {
		return nil, err
	}

	resolved, err := resolver.Resolve(ctx, logger, conn, resolver.Request{
		ProgramID:   params.ProgramID,
		Payer:       payer,
		Body:        body,
		GuardianSet: guardianSet,
		MaxRounds:   params.MaxRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve accounts: %w", err)
	}
	logger.Info("Resolved execution plan",
		zap.Int("iterations", resolved.Iterations),
		zap.Int("groups", len(resolved.Groups)))

	if !resolver.UsesRole(resolved.Groups, resolver.RoleSignaturesAccount) {
		return nil, fmt.Errorf("%w: %s never references the guardian signatures account", ErrUnsupportedProgram, params.ProgramID)
	}

	posted, err := PostSignatures(ctx, conn, payer, shim, params.GuardianSetIndex, records)
	if err != nil {
		return nil, err
	}
	logger.Debug("Posted guardian signatures",
		zap.Stringer("account", posted.Address),
		zap.Int("signatures", len(records)))

	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		if closeErr := CloseSignatures(closeCtx, conn, payer, shim, posted.Address, payer.PublicKey()); closeErr != nil {
			logger.Warn("Failed to close guardian signatures account",
				zap.Stringer("account", posted.Address),
				zap.Error(closeErr))
			return
		}
		logger.Debug("Closed guardian signatures account", zap.Stringer("account", posted.Address))
	}()

	sigs, err := Execute(ctx, logger, conn, payer, resolved.Groups, posted.Address, guardianSet)
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{
		Signatures:        sigs,
		Iterations:        resolved.Iterations,
		SignaturesAccount: posted.Address,
	}, nil
}
