package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

const (
	outcomeReceived  = "received"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
	outcomeSkipped   = "skipped"
	outcomeSubmitted = "submitted"
	outcomeFailed    = "failed"
)

var relayedVAAs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wormhole_svm_relay_vaas_total",
		Help: "Total number of VAAs seen by the relay, by outcome",
	}, []string{"outcome"})

const (
	resubscribeDelay = 5 * time.Second
	dedupeCapacity   = 10_000
)

type Relayer struct {
	spyClient    *clients.SpyClient
	filters      []clients.EmitterFilter
	vaaProcessor VAAProcessor
	seen         *recentKeys
	retryDelay   time.Duration
	logger       *zap.Logger
}

// NewRelayer creates a new relayer instance. Filters are forwarded to the spy subscription.
func NewRelayer(logger *zap.Logger, spyClient *clients.SpyClient, processor VAAProcessor, filters ...clients.EmitterFilter) (*Relayer, error) {
	if spyClient == nil {
		return nil, errors.New("spy client is required")
	}
	if processor == nil {
		return nil, errors.New("VAA processor is required")
	}
	return &Relayer{
		logger:       logger.With(zap.String("component", "Relayer")),
		spyClient:    spyClient,
		filters:      filters,
		vaaProcessor: processor,
		seen:         newRecentKeys(dedupeCapacity),
		retryDelay:   resubscribeDelay,
	}, nil
}

// Close cleans up resources used by the relayer
func (r *Relayer) Close() {
	if r.spyClient != nil {
		r.spyClient.Close()
	}
}

// Start listens for VAAs and processes them one at a time until ctx is done.
// It returns nil on cancellation and an error when the spy stream cannot be
// re-established.
func (r *Relayer) Start(ctx context.Context) error {
	stream, err := r.spyClient.SubscribeSignedVAA(ctx, r.filters...)
	if err != nil {
		return fmt.Errorf("subscribe to VAA stream: %w", err)
	}

	r.logger.Info("Listening for VAAs", zap.Int("filters", len(r.filters)))

	g, gctx := errgroup.WithContext(ctx)
	vaas := make(chan []byte)

	g.Go(func() error {
		defer close(vaas)
		for {
			resp, err := stream.Recv()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				r.logger.Warn("Stream error, resubscribing", zap.Error(err), zap.Duration("retryIn", r.retryDelay))
				select {
				case <-time.After(r.retryDelay):
				case <-gctx.Done():
					return nil
				}
				stream, err = r.spyClient.SubscribeSignedVAA(gctx, r.filters...)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("subscribe to VAA stream after retry: %w", err)
				}
				continue
			}

			select {
			case vaas <- resp.VaaBytes:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for raw := range vaas {
			r.processVAA(gctx, raw)
		}
		return nil
	})

	err = g.Wait()
	r.logger.Info("Shutdown complete")
	return err
}

func (r *Relayer) processVAA(ctx context.Context, vaaBytes []byte) {
	if ctx.Err() != nil {
		r.logger.Debug("Processing cancelled for VAA")
		return
	}
	relayedVAAs.WithLabelValues(outcomeReceived).Inc()

	key := computeVAAKey(vaaBytes)
	if !r.seen.add(key) {
		r.logger.Debug("Skipping duplicate VAA", zap.String("key", key))
		relayedVAAs.WithLabelValues(outcomeDuplicate).Inc()
		return
	}

	parsed, err := vaa.Parse(vaaBytes)
	if err != nil {
		r.logger.Error("Failed to parse VAA", zap.Error(err))
		relayedVAAs.WithLabelValues(outcomeInvalid).Inc()
		return
	}

	vaaData := VAAData{
		VAA:        parsed,
		RawBytes:   vaaBytes,
		ChainID:    uint16(parsed.EmitterChain),
		EmitterHex: fmt.Sprintf("%064x", parsed.EmitterAddress),
		Sequence:   parsed.Sequence,
		Key:        key,
	}

	r.logger.Debug("Processing VAA",
		zap.Uint16("chain", vaaData.ChainID),
		zap.Uint64("sequence", vaaData.Sequence),
		zap.String("emitter", vaaData.EmitterHex))

	if _, err := r.vaaProcessor.ProcessVAA(ctx, vaaData); err != nil {
		r.logger.Error("Error processing VAA", zap.Error(err))
	}
}
