package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/submitter"
)

const (
	// DefaultSpyRPCHost is the spy gRPC endpoint of a local guardian spy.
	DefaultSpyRPCHost = "localhost:7073"

	metricsShutdownTimeout = 5 * time.Second
)

// relayCmd represents the command to relay VAAs to Solana
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay Wormhole VAAs from a spy to a Solana program",
	Long: `Subscribes to signed VAAs on a Wormhole spy and submits every VAA from
the configured source chain and emitter to the target Solana program, one
at a time.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().String(
		"spy-rpc-host",
		DefaultSpyRPCHost,
		"Wormhole spy service endpoint")

	relayCmd.Flags().String(
		"program-id",
		"",
		"Program implementing resolve_execute_vaa_v1 (env PROGRAM_ID, required)")

	relayCmd.Flags().String(
		"payer",
		"",
		"Payer keypair file (env PAYER_KEYPAIR)")

	relayCmd.Flags().String(
		"private-key",
		"",
		"Payer private key, base58 encoded (used when --payer is not set)")

	relayCmd.Flags().Uint16(
		"chain-id",
		0,
		"Source chain ID to relay (0 = any chain)")

	relayCmd.Flags().String(
		"emitter-address",
		"",
		"Source emitter address to filter (hex)")

	relayCmd.Flags().String(
		"metrics-addr",
		"",
		"Serve prometheus metrics on this address, e.g. :9090")
}

type RelayConfig struct {
	SpyRPCHost     string // Wormhole spy service endpoint
	ChainID        uint16 // Source chain ID to relay
	EmitterAddress string // Source emitter address to filter
	ProgramID      solana.PublicKey
	CoreBridge     solana.PublicKey
	MetricsAddr    string
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	logger.Info("Starting Solana relayer")

	programID, err := solana.PublicKeyFromBase58(viper.GetString("program-id"))
	if err != nil {
		return fmt.Errorf("invalid or missing program ID: %w", err)
	}
	core, err := coreBridge()
	if err != nil {
		return err
	}
	payer, err := relayPayer()
	if err != nil {
		return err
	}

	config := RelayConfig{
		SpyRPCHost:     viper.GetString("spy-rpc-host"),
		ChainID:        uint16(viper.GetUint("chain-id")),
		EmitterAddress: viper.GetString("emitter-address"),
		ProgramID:      programID,
		CoreBridge:     core,
		MetricsAddr:    viper.GetString("metrics-addr"),
	}

	logger.Info("Configuration",
		zap.String("spyRPC", config.SpyRPCHost),
		zap.Uint16("chainId", config.ChainID),
		zap.String("emitterFilter", config.EmitterAddress),
		zap.String("solanaRPC", rpcURL()),
		zap.Stringer("programID", config.ProgramID),
		zap.Stringer("coreBridge", config.CoreBridge),
		zap.Stringer("payer", payer.PublicKey()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if config.MetricsAddr != "" {
		stop := serveMetrics(logger, config.MetricsAddr)
		defer stop()
	}

	spyClient, err := clients.NewSpyClient(logger, config.SpyRPCHost)
	if err != nil {
		return fmt.Errorf("failed to create spy client: %w", err)
	}

	solanaSubmitter := submitter.NewSolanaSubmitter(logger, newSolanaClient(logger), payer, submitter.BroadcastParams{
		ProgramID:  config.ProgramID,
		CoreBridge: config.CoreBridge,
	})

	processorConfig := internal.VAAProcessorConfig{
		ChainID:        config.ChainID,
		EmitterAddress: config.EmitterAddress,
	}
	vaaProcessor := internal.NewDefaultVAAProcessor(logger, processorConfig, solanaSubmitter)

	relayer, err := internal.NewRelayer(logger, spyClient, vaaProcessor, processorConfig.Filters()...)
	if err != nil {
		spyClient.Close()
		return fmt.Errorf("failed to initialize relayer: %w", err)
	}
	defer relayer.Close()

	if err := relayer.Start(ctx); err != nil {
		return fmt.Errorf("relayer stopped with error: %w", err)
	}
	return nil
}

// relayPayer loads the payer from --payer, falling back to --private-key.
func relayPayer() (solana.PrivateKey, error) {
	if path := viper.GetString("payer"); path != "" {
		payer, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read payer keypair: %w", err)
		}
		return payer, nil
	}
	encoded := viper.GetString("private-key")
	if encoded == "" {
		return nil, errors.New("a payer is required: set --payer or --private-key")
	}
	payer, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return payer, nil
}

// serveMetrics exposes the prometheus registry on addr until the returned
// function is called.
func serveMetrics(logger *zap.Logger, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
