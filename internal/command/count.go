package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCountCmd creates the count command.
func NewCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <channel>",
		Short: "Print a channel's message count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channelID, err := resolveChannel(ctx.Config, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			count, err := ctx.Source.MessageCount(cmd.Context(), channelID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return json.NewEncoder(out).Encode(map[string]any{"channel_id": channelID, "count": count})
			}
			fmt.Fprintln(out, formatCount(count))
			return nil
		},
	}
	return cmd
}
