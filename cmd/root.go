package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

// DefaultRPCURL is the Solana cluster used when neither flag nor environment sets one.
const DefaultRPCURL = "https://api.devnet.solana.com"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "wormhole-svm-utils",
	Short:        "Submit signed Wormhole VAAs to Solana programs",
	SilenceUsage: true,
	// Only the running command binds its flags, so subcommands may share flag names.
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	rootCmd.PersistentFlags().Bool(
		"debug",
		false,
		"Enables debug output.")

	rootCmd.PersistentFlags().Bool(
		"json",
		false,
		"Enables structured logging in JSON format.")

	rootCmd.PersistentFlags().String(
		"rpc-url",
		DefaultRPCURL,
		"Solana RPC URL (env SOLANA_RPC_URL)")

	rootCmd.PersistentFlags().String(
		"core-bridge",
		"",
		"Wormhole Core Bridge program ID (default: detected from --rpc-url)")

	rootCmd.PersistentFlags().Duration(
		"confirm-timeout",
		clients.DefaultConfirmTimeout,
		"How long to wait for each transaction to confirm")

	// Unprefixed names shared with the Solana tooling.
	viper.BindEnv("rpc-url", "SOLANA_RPC_URL")
	viper.BindEnv("core-bridge", "CORE_BRIDGE_PROGRAM_ID")
	viper.BindEnv("program-id", "PROGRAM_ID")
	viper.BindEnv("payer", "PAYER_KEYPAIR")

	cobra.OnInitialize(initConfig)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("wormhole_svm_utils")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func printBanner() {
	colours := []string{
		"\033[38;5;81m", // Cyan
		"\033[38;5;75m", // Light Blue
		"\033[38;5;69m", // Sky Blue
		"\033[38;5;63m", // Dodger Blue
		"\033[38;5;57m", // Deep Sky Blue
	}
	banner := `
 ____ _  _ __  __      ____ ____ __     __   _  _
/ ___) )( (  \/  )___ (  _ (  __)  )   / _\ ( \/ )
\___ \ \/ / )  ((___) )   /) _)/ (_/\/    \ )  /
(____/\__/(_/\/\_)    (__\_)(____)____/\_/\_/(__/
`
	lines := strings.Split(strings.Trim(banner, "\n"), "\n")
	for i, line := range lines {
		fmt.Fprintf(os.Stderr, "%s%s\n", colours[i%len(colours)], line)
	}

	fmt.Fprintln(os.Stderr, "\033[0m") // Reset
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Configure JSON output if requested
	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Standard output carries command results only.
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	// Replace the global logger
	zap.ReplaceGlobals(logger)

	return logger
}

// rpcURL returns the configured Solana RPC URL.
func rpcURL() string {
	if url := viper.GetString("rpc-url"); url != "" {
		return url
	}
	return DefaultRPCURL
}

// coreBridge returns the configured core bridge program, falling back to the
// deployment matching the RPC URL.
func coreBridge() (solana.PublicKey, error) {
	if id := viper.GetString("core-bridge"); id != "" {
		key, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid core bridge ID %q: %w", id, err)
		}
		return key, nil
	}
	return wormhole.CoreBridgeForCluster(rpcURL()), nil
}

// newSolanaClient connects to the configured RPC URL.
func newSolanaClient(logger *zap.Logger) *clients.SolanaClient {
	return clients.NewSolanaClient(logger, rpcURL(), viper.GetDuration("confirm-timeout"))
}
