package internal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/submitter"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

// DefaultProcessTimeout bounds the submission of one VAA.
const DefaultProcessTimeout = 5 * time.Minute

type VAAProcessor interface {
	// ProcessVAA processes the given VAA and returns the confirmation ids, nil when the VAA was skipped
	ProcessVAA(ctx context.Context, vaaData VAAData) ([]string, error)
}

type VAAProcessorConfig struct {
	ChainID        uint16 // Source chain to accept (0 = any chain)
	EmitterAddress string // Hex-encoded emitter address to filter (empty = no filter)
}

// Filters returns the spy subscription filter matching this configuration.
// The spy only filters on a full chain and emitter pair.
func (c VAAProcessorConfig) Filters() []clients.EmitterFilter {
	if c.ChainID == 0 || c.EmitterAddress == "" {
		return nil
	}
	return []clients.EmitterFilter{{ChainID: c.ChainID, EmitterAddress: normalizeEmitter(c.EmitterAddress)}}
}

type DefaultVAAProcessor struct {
	config    VAAProcessorConfig
	timeout   time.Duration
	logger    *zap.Logger
	submitter submitter.VAASubmitter
}

func NewDefaultVAAProcessor(logger *zap.Logger, config VAAProcessorConfig, submitter submitter.VAASubmitter) *DefaultVAAProcessor {
	config.EmitterAddress = normalizeEmitter(config.EmitterAddress)

	return &DefaultVAAProcessor{
		config:    config,
		timeout:   DefaultProcessTimeout,
		logger:    logger.With(zap.String("component", "DefaultVAAProcessor")),
		submitter: submitter,
	}
}

func (p *DefaultVAAProcessor) ProcessVAA(ctx context.Context, vaaData VAAData) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vaa.LogVAA(p.logger, vaaData.VAA, vaaData.RawBytes)

	if p.config.ChainID != 0 && vaaData.ChainID != p.config.ChainID {
		p.logger.Debug("Skipping VAA (not from configured chain)",
			zap.Uint64("sequence", vaaData.Sequence),
			zap.Uint16("chain", vaaData.ChainID))
		relayedVAAs.WithLabelValues(outcomeSkipped).Inc()
		return nil, nil
	}

	if p.config.EmitterAddress != "" && vaaData.EmitterHex != p.config.EmitterAddress {
		p.logger.Debug("Skipping VAA (not from configured emitter)",
			zap.Uint64("sequence", vaaData.Sequence),
			zap.String("emitter", vaaData.EmitterHex),
			zap.String("expectedEmitter", p.config.EmitterAddress))
		relayedVAAs.WithLabelValues(outcomeSkipped).Inc()
		return nil, nil
	}

	p.logger.Info("Received VAA from configured emitter",
		zap.Uint16("chain", vaaData.ChainID),
		zap.String("emitter", vaaData.EmitterHex),
		zap.Uint64("sequence", vaaData.Sequence))

	signatures, err := p.submitter.SubmitVAA(ctx, vaaData.RawBytes)
	if err != nil {
		relayedVAAs.WithLabelValues(outcomeFailed).Inc()
		if ctx.Err() != nil {
			p.logger.Warn("VAA submission cancelled or timed out", zap.Error(ctx.Err()))
			return nil, fmt.Errorf("submission interrupted: %w", ctx.Err())
		}

		p.logger.Error("Failed to submit VAA",
			zap.Uint64("sequence", vaaData.Sequence),
			zap.Error(err))
		return nil, fmt.Errorf("submission failed: %w", err)
	}

	relayedVAAs.WithLabelValues(outcomeSubmitted).Inc()
	p.logger.Info("VAA relayed",
		zap.Uint64("sequence", vaaData.Sequence),
		zap.Strings("signatures", signatures))

	return signatures, nil
}
