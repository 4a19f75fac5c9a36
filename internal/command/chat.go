package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/chat"
	"github.com/adamavenir/ledgerchat/internal/engine"
)

// Terminal scroll positions are measured in lines.
const (
	chatNearBottomLines = 3
	chatTopLines        = 2
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <channel>",
		Short: "Interactive chat mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeCommandError(cmd, fmt.Errorf("--json not supported for interactive chat"))
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channelID, err := resolveChannel(ctx.Config, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			quiet, _ := cmd.Flags().GetBool("no-notify")
			notifier := chat.Notifier(chat.DesktopNotifier)
			if quiet {
				notifier = nil
			}

			bridge := chat.NewBridge()
			err = runSession(cmd, ctx, channelID, bridge, sessionOptions{
				NearBottomThreshold: chatNearBottomLines,
				TopThreshold:        chatTopLines,
				BackfillShortLatest: true,
			}, func(runCtx context.Context, runner *engine.Runner) error {
				return chat.Run(runCtx, chat.Options{
					Controller: runner,
					Bridge:     bridge,
					ChannelID:  channelID,
					Address:    ctx.Config.Address,
					AIAddress:  ctx.Config.AIAddress,
					Aliases:    ctx.Config.MentionAliases(),
					Notifier:   notifier,
				})
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-notify", false, "disable desktop notifications for AI replies")
	addSessionFlags(cmd)
	return cmd
}
