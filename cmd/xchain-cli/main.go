package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/virtue186/xnode/cmd/xchain-cli/chain"
	"github.com/virtue186/xnode/cmd/xchain-cli/peers"
	"github.com/virtue186/xnode/cmd/xchain-cli/transfer"
)

var rootCmd = &cobra.Command{
	Use:   "xchain-cli",
	Short: "A command-line client for interacting with an xnode node",
	Long: `xchain-cli queries the chain and peers of a running xnode
and submits transactions to its memory pool.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("url", "http://localhost:8000/rpc", "URL of the xnode RPC API server")
}

func main() {
	rootCmd.AddCommand(chain.NewChainCmd())
	rootCmd.AddCommand(peers.NewPeersCmd())
	rootCmd.AddCommand(transfer.NewTransferCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your command '%s'\n", err)
		os.Exit(1)
	}
}
