package peers

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/virtue186/xnode/cmd/xchain-cli/client"
)

func NewPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List the peers a node is connected to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiEndpoint, err := cmd.Flags().GetString("url")
			if err != nil {
				return err
			}
			infos, err := client.New(apiEndpoint).GetPeerInfo()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDR\tDIR\tUSER AGENT\tHEIGHT\tSENT\tRECV\tUPTIME")
			for _, p := range infos {
				dir := "out"
				if p.Inbound {
					dir = "in"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					p.ID, p.Addr, dir, p.UserAgent, p.StartHeight, p.BytesSent, p.BytesReceived,
					time.Since(p.ConnectedSince).Truncate(time.Second))
			}
			return w.Flush()
		},
	}
	return cmd
}
