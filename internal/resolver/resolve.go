package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

// DefaultMaxRounds bounds the resolve loop.
const DefaultMaxRounds = 10

// Result is a fully resolved execution plan.
type Result struct {
	Groups []InstructionGroup
	// Iterations is the number of simulations it took to resolve.
	Iterations int
}

// ExhaustedError is returned when the round budget runs out.
type ExhaustedError struct {
	Rounds   int
	Accounts []solana.PublicKey
}

func (e *ExhaustedError) Error() string {
	addrs := make([]string, len(e.Accounts))
	for i, a := range e.Accounts {
		addrs[i] = a.String()
	}
	return fmt.Sprintf("resolver did not resolve after %d rounds, accumulated accounts: [%s]",
		e.Rounds, strings.Join(addrs, ", "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrProtocol
}

// Request describes one resolution.
type Request struct {
	ProgramID   solana.PublicKey
	Payer       solana.PrivateKey
	Body        []byte
	GuardianSet solana.PublicKey
	MaxRounds   int
}

// Resolve simulates resolve_execute_vaa_v1 against the target program until
// it returns its instruction groups. Accounts reported missing are appended
// read-only for the next round, with the payer and guardian set placeholders
// replaced by the real addresses.
func Resolve(ctx context.Context, logger *zap.Logger, conn clients.Connection, req Request) (*Result, error) {
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	payer := req.Payer.PublicKey()
	logger = logger.With(zap.String("component", "Resolver"), zap.Stringer("program", req.ProgramID))

	var remaining []solana.PublicKey
	for round := 1; round <= maxRounds; round++ {
		tx, err := resolveTransaction(ctx, conn, req, remaining)
		if err != nil {
			return nil, err
		}

		returnData, err := conn.SimulateReturnData(ctx, tx)
		if err != nil {
			if errors.Is(err, clients.ErrConnection) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: simulation failed on round %d: %v", ErrProtocol, round, err)
		}
		if len(returnData) == 0 {
			return nil, fmt.Errorf("%w: no return data on round %d", ErrProtocol, round)
		}

		outcome, err := DecodeOutcome(returnData)
		if err != nil {
			return nil, err
		}

		switch outcome.Kind {
		case OutcomeResolved:
			logger.Debug("Resolved",
				zap.Int("iterations", round),
				zap.Int("groups", len(outcome.Groups)))
			return &Result{Groups: outcome.Groups, Iterations: round}, nil
		case OutcomeMissing:
			for _, addr := range outcome.Missing.Accounts {
				remaining = append(remaining, substitute(addr, payer, req.GuardianSet))
			}
			logger.Debug("Resolver requested accounts",
				zap.Int("round", round),
				zap.Int("missing", len(outcome.Missing.Accounts)),
				zap.Int("accumulated", len(remaining)))
		default:
			return nil, fmt.Errorf("%w: %s outcome is not supported", ErrProtocol, outcome.Kind)
		}
	}

	return nil, &ExhaustedError{Rounds: maxRounds, Accounts: remaining}
}

func resolveTransaction(ctx context.Context, conn clients.Connection, req Request, remaining []solana.PublicKey) (*solana.Transaction, error) {
	metas := make(solana.AccountMetaSlice, len(remaining))
	for i, addr := range remaining {
		metas[i] = solana.Meta(addr)
	}
	ix := solana.NewInstruction(req.ProgramID, metas, EncodeResolveData(req.Body))

	blockhash, err := conn.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	payer := req.Payer.PublicKey()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build resolve transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &req.Payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign resolve transaction: %w", err)
	}
	return tx, nil
}

// substitute resolves the placeholders known at resolve time. Everything
// else, including the signatures account, is kept for the execution engine.
func substitute(addr, payer, guardianSet solana.PublicKey) solana.PublicKey {
	role, ok := RoleOf(addr)
	if !ok {
		return addr
	}
	switch role {
	case RolePayer:
		return payer
	case RoleGuardianSet:
		return guardianSet
	default:
		return addr
	}
}
