// Package main is the entry point for the enigma gateway binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command. Running it without a subcommand
// starts the gateway, same as "enigma serve".
func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "enigma",
		Short: "Field encryption gateway",
		Long: `enigma encrypts, decrypts and rewrites queries over JSON documents.

It serves POST /encrypt, /decrypt and /query over plain HTTP or HTTPS, using
the field encryption configuration named by --crypt-config.

Example:
  enigma serve --https --cert-chain server-chain.pem --private-key server-key.pem --crypt-config crypt.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}
	addServeFlags(rootCmd, opts)

	rootCmd.AddCommand(newServeCmd(), newGenCertCmd(), newCheckCertCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "enigma version %s\n", version)
		},
	}
}
