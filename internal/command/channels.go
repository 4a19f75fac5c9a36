package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/types"
)

// NewChannelsCmd creates the channels command.
func NewChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels on the devnet ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channels, err := ctx.Ledger.ListChannels(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				if channels == nil {
					channels = []types.ChannelSnapshot{}
				}
				return json.NewEncoder(out).Encode(channels)
			}
			if len(channels) == 0 {
				fmt.Fprintln(out, "No channels. Create one with: ledgerchat devnet channel <title>")
				return nil
			}
			for _, ch := range channels {
				status := ""
				if ch.Status != types.ChannelStatusActive {
					status = " (" + ch.Status.String() + ")"
				}
				fmt.Fprintf(out, "%s  %-24s %-8s %s messages%s\n",
					ch.ID, ch.Title, ch.Type, formatCount(ch.TotalMessageCount), status)
			}
			return nil
		},
	}
	return cmd
}
