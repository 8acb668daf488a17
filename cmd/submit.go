package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/submitter"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
)

var submitCmd = &cobra.Command{
	Use:   "submit [VAA hex | @file]",
	Short: "Submit a signed VAA to a Solana program",
	Long: `Resolves the accounts the target program needs, posts the guardian
signatures to the Verify VAA Shim, executes the resolved instructions and
closes the signatures account again.

The VAA is read as hex from the argument, from a file given as @path, or
from stdin. Transaction signatures are printed to stdout, one per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String(
		"program-id",
		"",
		"Program implementing resolve_execute_vaa_v1 (env PROGRAM_ID, required)")

	submitCmd.Flags().String(
		"payer",
		"",
		"Payer keypair file (env PAYER_KEYPAIR, required)")

	submitCmd.Flags().Int(
		"max-rounds",
		0,
		"Resolver round budget (default 10)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)

	var arg string
	if len(args) == 1 {
		arg = args[0]
	}
	raw, err := readVAA(arg, cmd.InOrStdin())
	if err != nil {
		return err
	}

	programID, err := solana.PublicKeyFromBase58(viper.GetString("program-id"))
	if err != nil {
		return fmt.Errorf("invalid or missing program ID: %w", err)
	}
	payerPath := viper.GetString("payer")
	if payerPath == "" {
		return fmt.Errorf("payer keypair file is required")
	}
	payer, err := solana.PrivateKeyFromSolanaKeygenFile(payerPath)
	if err != nil {
		return fmt.Errorf("failed to read payer keypair: %w", err)
	}
	core, err := coreBridge()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Submitting VAA",
		zap.Stringer("programID", programID),
		zap.Stringer("payer", payer.PublicKey()),
		zap.Stringer("coreBridge", core),
		zap.String("rpcURL", rpcURL()))

	params := submitter.BroadcastParams{
		ProgramID:  programID,
		CoreBridge: core,
		MaxRounds:  viper.GetInt("max-rounds"),
	}
	return submitVAA(ctx, logger, newSolanaClient(logger), payer, params, raw, cmd.OutOrStdout())
}

// submitVAA broadcasts raw and writes each transaction signature to out.
func submitVAA(
	ctx context.Context,
	logger *zap.Logger,
	conn clients.Connection,
	payer solana.PrivateKey,
	params submitter.BroadcastParams,
	raw []byte,
	out io.Writer,
) error {
	parsed, err := vaa.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing signed VAA: %w", err)
	}
	vaa.LogVAA(logger, parsed, raw)

	signatures, err := submitter.NewSolanaSubmitter(logger, conn, payer, params).SubmitVAA(ctx, raw)
	if err != nil {
		return err
	}
	for _, sig := range signatures {
		fmt.Fprintln(out, sig)
	}
	return nil
}
