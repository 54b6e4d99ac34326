package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leengari/burpdb/internal/envelope"
	"github.com/leengari/burpdb/internal/repl"
)

// NewShellCommand creates the interactive shell command
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "repl",
		Aliases: []string{"shell"},
		Short:   "Start the interactive shell",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return repl.Run(cmd.InOrStdin(), cmd.OutOrStdout(), newRegistry(rootOpts))
		},
	}
}

// NewKeygenCommand creates a command printing a fresh encryption key
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size == 0 {
				size = rootOpts.Config.KeySize
			}
			key, err := envelope.GenerateKey(size)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "key size in bytes (default from config)")

	return cmd
}

// NewListCommand creates a command listing the databases under the data directory
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List databases",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbs, err := newRegistry(rootOpts).ListDatabases()
			if err != nil {
				return err
			}
			for _, db := range dbs {
				fmt.Fprintln(cmd.OutOrStdout(), db)
			}
			return nil
		},
	}
}
