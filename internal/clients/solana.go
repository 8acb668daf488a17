package clients

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// DefaultConfirmTimeout bounds how long SendAndConfirm polls for a status.
	DefaultConfirmTimeout = 60 * time.Second

	confirmPollInterval = 500 * time.Millisecond
)

// SolanaClient is the live RPC implementation of Connection.
type SolanaClient struct {
	client         *rpc.Client
	rpcURL         string
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewSolanaClient creates a new Solana RPC client.
// A zero confirmTimeout selects DefaultConfirmTimeout.
func NewSolanaClient(logger *zap.Logger, rpcURL string, confirmTimeout time.Duration) *SolanaClient {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}

	client := &SolanaClient{
		client:         rpc.New(rpcURL),
		rpcURL:         rpcURL,
		commitment:     rpc.CommitmentConfirmed,
		confirmTimeout: confirmTimeout,
		logger:         logger.With(zap.String("component", "SolanaClient")),
	}

	client.logger.Debug("Connecting to Solana", zap.String("rpcURL", rpcURL))
	return client
}

// RPCURL returns the endpoint this client talks to.
func (c *SolanaClient) RPCURL() string {
	return c.rpcURL
}

// LatestBlockhash implements Connection.
func (c *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	observe("get_latest_blockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w: failed to get latest blockhash: %w", ErrConnection, err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: empty latest blockhash response", ErrConnection)
	}
	return out.Value.Blockhash, nil
}

type simulateReturnData struct {
	ProgramID string   `json:"programId"`
	Data      []string `json:"data"`
}

type simulateResult struct {
	Value struct {
		Err        interface{}         `json:"err"`
		Logs       []string            `json:"logs"`
		ReturnData *simulateReturnData `json:"returnData"`
	} `json:"value"`
}

// SimulateReturnData implements Connection. Signature verification is disabled
// and the blockhash replaced so a simulation never depends on signer material.
func (c *SolanaClient) SimulateReturnData(ctx context.Context, tx *solana.Transaction) ([]byte, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	params := []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{
			"encoding":               "base64",
			"commitment":             string(c.commitment),
			"sigVerify":              false,
			"replaceRecentBlockhash": true,
		},
	}

	var out simulateResult
	start := time.Now()
	err = c.client.RPCCallForInto(ctx, &out, "simulateTransaction", params)
	observe("simulate_transaction", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: simulateTransaction: %w", ErrConnection, err)
	}

	if out.Value.Err != nil {
		c.logger.Debug("Simulation failed",
			zap.Any("err", out.Value.Err),
			zap.Strings("logs", out.Value.Logs))
		return nil, fmt.Errorf("simulation failed: %v (logs: %s)", out.Value.Err, strings.Join(out.Value.Logs, "; "))
	}

	if out.Value.ReturnData == nil || len(out.Value.ReturnData.Data) == 0 {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(out.Value.ReturnData.Data[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode return data: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// SendAndConfirm implements Connection.
func (c *SolanaClient) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	observe("send_transaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to send transaction: %w", ErrConnection, err)
	}

	c.logger.Debug("Transaction sent", zap.String("signature", sig.String()))

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *SolanaClient) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		statuses, err := c.client.GetSignatureStatuses(ctx, false, sig)
		observe("get_signature_statuses", start, err)
		if err != nil {
			c.logger.Debug("Error checking transaction status", zap.Error(err))
		} else if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: transaction %s not confirmed: %w", ErrConnection, sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetAccount implements Connection.
func (c *SolanaClient) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	start := time.Now()
	info, err := c.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		observe("get_account_info", start, nil)
		return nil, nil
	}
	observe("get_account_info", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get account %s: %w", ErrConnection, address, err)
	}
	if info == nil || info.Value == nil {
		return nil, nil
	}

	return &Account{
		Lamports:   info.Value.Lamports,
		Data:       info.Value.Data.GetBinary(),
		Owner:      info.Value.Owner,
		Executable: info.Value.Executable,
	}, nil
}

func observe(method string, start time.Time, err error) {
	queryLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		queryErrors.WithLabelValues(method).Inc()
	}
}
