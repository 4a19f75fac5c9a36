package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <channel> <message...>",
		Short: "Post a message to a channel",
		Args:  cobra.MinimumNArgs(2),
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
			if ctx.Config.Address == "" {
				return writeCommandError(cmd, errors.New("no sender address: pass --as or set address in config"))
			}
			body := strings.TrimSpace(strings.Join(args[1:], " "))
			if body == "" {
				return writeCommandError(cmd, errors.New("message body is empty"))
			}

			member, err := ctx.Source.IsMember(cmd.Context(), channelID, ctx.Config.Address)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if !member {
				return writeCommandError(cmd, fmt.Errorf("%s: %w", core.ShortAddress(ctx.Config.Address), db.ErrNotMember))
			}

			replyTo, _ := cmd.Flags().GetInt64("reply-to")
			if replyTo < types.NoReply {
				return writeCommandError(cmd, fmt.Errorf("invalid --reply-to %d", replyTo))
			}
			req := types.SendRequest{
				ChannelID: channelID,
				Sender:    ctx.Config.Address,
				Content:   body,
				Mentions:  core.ExtractMentions(body, ctx.Config.MentionAliases()),
				ReplyTo:   replyTo,
			}
			if amount, _ := cmd.Flags().GetUint64("pay"); amount > 0 {
				payTo, _ := cmd.Flags().GetString("pay-to")
				if payTo == "" {
					payTo = ctx.Config.AIAddress
				}
				payTo = ctx.Config.ResolveAlias(payTo)
				if payTo == "" {
					return writeCommandError(cmd, errors.New("--pay needs --pay-to or a configured AI address"))
				}
				req.Payment = &types.Payment{To: payTo, Amount: amount}
			}

			receipt, err := ctx.Source.SendMessage(cmd.Context(), req)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return json.NewEncoder(out).Encode(receipt)
			}
			if receipt.Index != nil {
				fmt.Fprintf(out, "Sent #%d (tx %s)\n", *receipt.Index, core.ShortAddress(receipt.TxHash))
			} else {
				fmt.Fprintf(out, "Sent (tx %s)\n", core.ShortAddress(receipt.TxHash))
			}
			return nil
		},
	}

	cmd.Flags().Int64("reply-to", types.NoReply, "index of the message this replies to")
	cmd.Flags().Uint64("pay", 0, "attach a payment of this amount")
	cmd.Flags().String("pay-to", "", "payment recipient (defaults to the AI address)")
	return cmd
}
