package chain

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/virtue186/xnode/cmd/xchain-cli/client"
)

func newClient(cmd *cobra.Command) (*client.Client, error) {
	apiEndpoint, err := cmd.Flags().GetString("url")
	if err != nil {
		return nil, err
	}
	return client.New(apiEndpoint), nil
}

// NewChainCmd 查询链状态的命令组
func NewChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Query the block chain of a node",
	}
	cmd.AddCommand(newCountCmd(), newBestCmd(), newHashCmd(), newBlockCmd())
	return cmd
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the height of the best block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := newClient(cmd)
			if err != nil {
				return err
			}
			height, err := cli.GetBlockCount()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), height)
			return nil
		},
	}
}

func newBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best",
		Short: "Print the hash of the best block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := newClient(cmd)
			if err != nil {
				return err
			}
			hash, err := cli.GetBestBlockHash()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [height]",
		Short: "Print the hash of the main chain block at a height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid height: %w", err)
			}
			cli, err := newClient(cmd)
			if err != nil {
				return err
			}
			hash, err := cli.GetBlockHash(uint32(height))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block [hash]",
		Short: "Show a block header and its transaction hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := newClient(cmd)
			if err != nil {
				return err
			}
			block, err := cli.GetBlock(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Block %s\n", block.Hash)
			fmt.Fprintf(out, "  Height:      %d\n", block.Height)
			fmt.Fprintf(out, "  Previous:    %s\n", block.PreviousBlockHash)
			fmt.Fprintf(out, "  Merkle root: %s\n", block.MerkleRoot)
			fmt.Fprintf(out, "  Time:        %d\n", block.Time)
			fmt.Fprintf(out, "  Bits:        %s\n", block.Bits)
			fmt.Fprintf(out, "  Transactions (%d):\n", len(block.Tx))
			for _, tx := range block.Tx {
				fmt.Fprintf(out, "    %s\n", tx)
			}
			return nil
		},
	}
}
