package submitter

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

// DefaultSubmitTimeout bounds one SubmitVAA call.
const DefaultSubmitTimeout = 180 * time.Second

// SolanaSubmitter handles submission of signed VAAs to a Solana program
type SolanaSubmitter struct {
	conn    clients.Connection
	payer   solana.PrivateKey
	params  BroadcastParams
	timeout time.Duration
	logger  *zap.Logger
}

// NewSolanaSubmitter creates a new Solana submitter instance
func NewSolanaSubmitter(logger *zap.Logger, conn clients.Connection, payer solana.PrivateKey, params BroadcastParams) *SolanaSubmitter {
	return &SolanaSubmitter{
		conn:    conn,
		payer:   payer,
		params:  params,
		timeout: DefaultSubmitTimeout,
		logger:  logger.With(zap.String("component", "SolanaSubmitter")),
	}
}

// SubmitVAA broadcasts the given signed VAA to the target program and returns the execution transaction signatures
func (s *SolanaSubmitter) SubmitVAA(ctx context.Context, vaaBytes []byte) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parsed, err := vaa.Parse(vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse VAA: %w", err)
	}

	params := s.params
	params.GuardianSetIndex = parsed.GuardianSetIndex

	s.logger.Info("Submitting VAA to Solana",
		zap.Int("vaaLength", len(vaaBytes)),
		zap.Stringer("programID", params.ProgramID),
		zap.Stringer("payer", s.payer.PublicKey()),
		zap.Uint16("emitterChain", uint16(parsed.EmitterChain)),
		zap.Uint64("sequence", parsed.Sequence))

	result, err := Broadcast(ctx, s.logger, s.conn, s.payer, params, vaa.Body(parsed), vaa.SignatureRecords(parsed))
	if err != nil {
		return nil, fmt.Errorf("failed to submit VAA to Solana: %w", err)
	}

	out := make([]string, len(result.Signatures))
	for i, sig := range result.Signatures {
		out[i] = sig.String()
	}
	s.logger.Info("VAA successfully submitted to Solana",
		zap.Strings("signatures", out),
		zap.Int("resolveIterations", result.Iterations),
		zap.Uint16("emitterChain", uint16(parsed.EmitterChain)),
		zap.Uint64("sequence", parsed.Sequence))
	return out, nil
}
