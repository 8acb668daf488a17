package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
)

var accountCmd = &cobra.Command{
	Use:   "account <address | pda:PROGRAM_ID:seed...>",
	Short: "Fetch an account and dump its data as hex",
	Long: `Fetches an account and prints its data as hex on stdout. The address,
owner, lamports and data length go to stderr.

Seeds in the pda: form are UTF-8 strings or 0x-prefixed hex.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := configureLogging(cmd, args)
		return dumpAccount(cmd.Context(), newSolanaClient(logger), args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}

func dumpAccount(ctx context.Context, conn clients.Connection, address string, out, info io.Writer) error {
	key, derived, err := parseAddress(address)
	if err != nil {
		return err
	}
	if derived != nil {
		fmt.Fprintf(info, "pda: %s (bump %d)\n", derived.Address, derived.Bump)
	}

	account, err := conn.GetAccount(ctx, key)
	if err != nil {
		return fmt.Errorf("fetching account %s: %w", key, err)
	}
	if account == nil {
		return fmt.Errorf("account %s not found", key)
	}

	fmt.Fprintf(info, "address:  %s\n", key)
	fmt.Fprintf(info, "owner:    %s\n", account.Owner)
	fmt.Fprintf(info, "lamports: %d\n", account.Lamports)
	fmt.Fprintf(info, "data len: %d\n", len(account.Data))
	fmt.Fprintln(out, hex.EncodeToString(account.Data))
	return nil
}
