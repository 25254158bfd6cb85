package transfer

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/virtue186/xnode/cmd/xchain-cli/client"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// BuildTx 用一个输入和一个输出组装交易。脚本原样放入，不做签名
func BuildTx(prevOut string, sigScript, pkScript []byte, amount int64) (*wire.MsgTx, error) {
	hashStr, indexStr, ok := strings.Cut(prevOut, ":")
	if !ok {
		return nil, fmt.Errorf("outpoint must be <txid>:<index>")
	}
	hash, err := types.HashFromString(hashStr)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint hash: %w", err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint index: %w", err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	tx := &wire.MsgTx{Version: 1}
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: hash, Index: uint32(index)},
		SignatureScript:  sigScript,
		Sequence:         0xffffffff,
	})
	tx.AddTxOut(&wire.TxOut{Value: amount, PkScript: pkScript})
	return tx, nil
}

// NewTransferCmd 返回一个用于发起交易的 cobra 命令
func NewTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer --from <txid:index> --to <pkscript hex> --amount <value>",
		Short: "Spend an output to a script",
		Long: `Constructs a transaction spending one output, serializes it in the
wire format and submits it to the node's memory pool via RPC.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			sig, _ := cmd.Flags().GetString("sig")
			amount, _ := cmd.Flags().GetInt64("amount")
			if from == "" || to == "" {
				return fmt.Errorf("flags --from and --to are required")
			}

			pkScript, err := hex.DecodeString(to)
			if err != nil {
				return fmt.Errorf("invalid output script: %w", err)
			}
			sigScript, err := hex.DecodeString(sig)
			if err != nil {
				return fmt.Errorf("invalid signature script: %w", err)
			}
			tx, err := BuildTx(from, sigScript, pkScript, amount)
			if err != nil {
				return err
			}
			payload, err := wire.EncodeMessage(tx)
			if err != nil {
				return fmt.Errorf("failed to encode transaction: %w", err)
			}

			apiEndpoint, err := cmd.Flags().GetString("url")
			if err != nil {
				return err
			}
			txHash, err := client.New(apiEndpoint).SendRawTransaction(hex.EncodeToString(payload))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transaction sent: %s\n", txHash)
			return nil
		},
	}

	cmd.Flags().String("from", "", "outpoint to spend, <txid>:<index>")
	cmd.Flags().String("to", "", "output script (hex)")
	cmd.Flags().String("sig", "", "signature script (hex)")
	cmd.Flags().Int64("amount", 0, "amount to send")
	return cmd
}
