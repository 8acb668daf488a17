package clients

import (
	"context"
	"fmt"
	"time"

	publicrpcv1 "github.com/certusone/wormhole/node/pkg/proto/publicrpc/v1"
	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	spySubscribeAttempts   = 5
	spySubscribeRetryDelay = 2 * time.Second
)

// EmitterFilter restricts a spy subscription to one emitter.
// EmitterAddress is the 32-byte address in hex without a 0x prefix.
type EmitterFilter struct {
	ChainID        uint16
	EmitterAddress string
}

// SpyClient handles connections to the Wormhole spy service
type SpyClient struct {
	conn   *grpc.ClientConn
	client spyv1.SpyRPCServiceClient
	logger *zap.Logger
}

// NewSpyClient creates a new client for the Wormhole spy service.
// Extra dial options are appended after the insecure transport credentials.
func NewSpyClient(logger *zap.Logger, endpoint string, opts ...grpc.DialOption) (*SpyClient, error) {
	client := &SpyClient{
		logger: logger.With(zap.String("component", "SpyClient")),
	}

	client.logger.Info("Connecting to spy service", zap.String("endpoint", endpoint))
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spy: %w", err)
	}

	client.conn = conn
	client.client = spyv1.NewSpyRPCServiceClient(conn)
	return client, nil
}

// Close closes the connection to the spy service
func (c *SpyClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// SubscribeSignedVAA subscribes to signed VAAs matching any of the filters.
// No filters subscribes to everything.
func (c *SpyClient) SubscribeSignedVAA(ctx context.Context, filters ...EmitterFilter) (spyv1.SpyRPCService_SubscribeSignedVAAClient, error) {
	req := &spyv1.SubscribeSignedVAARequest{Filters: make([]*spyv1.FilterEntry, 0, len(filters))}
	for _, f := range filters {
		req.Filters = append(req.Filters, &spyv1.FilterEntry{
			Filter: &spyv1.FilterEntry_EmitterFilter{
				EmitterFilter: &spyv1.EmitterFilter{
					ChainId:        publicrpcv1.ChainID(f.ChainID),
					EmitterAddress: f.EmitterAddress,
				},
			},
		})
	}

	c.logger.Debug("Subscribing to signed VAAs", zap.Int("filters", len(req.Filters)))

	var lastErr error
	for attempt := 1; attempt <= spySubscribeAttempts; attempt++ {
		stream, err := c.client.SubscribeSignedVAA(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if attempt == spySubscribeAttempts {
			break
		}
		c.logger.Warn("Subscribe attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
			zap.Duration("retryIn", spySubscribeRetryDelay))

		select {
		case <-time.After(spySubscribeRetryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed to subscribe after %d attempts: %w", spySubscribeAttempts, lastErr)
}
