// Command authd runs the better-auth engine as a standalone HTTP server,
// the framework-agnostic deployment mode alongside embedding
// internal/engine directly in a host application. Grounded on dex's own
// cmd/dex entrypoint: one cobra root, a serve subcommand that reads a
// YAML config file, and a version subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func commandRoot() *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "authd",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(2)
		},
	}
	rootCmd.AddCommand(commandServe())
	rootCmd.AddCommand(commandVersion())
	return rootCmd
}

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
}
