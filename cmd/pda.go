package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pdaCmd = &cobra.Command{
	Use:   "pda <PROGRAM_ID> <seed>...",
	Short: "Derive a program address",
	Long: `Derives a program address from seeds. Seeds are UTF-8 strings or
0x-prefixed hex. The address goes to stdout and the bump to stderr.`,
	Example: `  wormhole-svm-utils pda <PROGRAM_ID> foo bar baz
  wormhole-svm-utils pda <PROGRAM_ID> 0xdeadbeef hello`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		derived, err := derive(args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), derived.Address)
		fmt.Fprintf(cmd.ErrOrStderr(), "bump: %d\n", derived.Bump)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pdaCmd)
}
