package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/daemon"
	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const defaultLedgerFile = "ledgerchat.db"

// NewDevnetCmd creates the devnet command group.
func NewDevnetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Manage a local SQLite ledger for development and demos",
	}
	cmd.AddCommand(
		newDevnetInitCmd(),
		newDevnetChannelCmd(),
		newDevnetJoinCmd(),
		newDevnetCloseCmd(),
		newDevnetSeedCmd(),
		newDevnetResponderCmd(),
	)
	return cmd
}

func newDevnetInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a devnet ledger file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("ledger")
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = defaultLedgerFile
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ledger, err := db.OpenLedger(abs)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ledger.Close(); err != nil {
				return writeCommandError(cmd, err)
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				cfg, err := core.LoadConfig()
				if err != nil {
					return writeCommandError(cmd, err)
				}
				cfg.LedgerPath = abs
				if err := core.WriteConfig(cfg); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized devnet ledger at %s\n", abs)
			return nil
		},
	}
	cmd.Flags().Bool("save", false, "store the ledger path in the user config")
	return cmd
}

func newDevnetChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel <title>",
		Short: "Create a channel owned by --as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if ctx.Config.Address == "" {
				return writeCommandError(cmd, errors.New("channel creator required: pass --as"))
			}
			typeName, _ := cmd.Flags().GetString("type")
			channelType, err := parseChannelType(typeName)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			refs, _ := cmd.Flags().GetStringSlice("member")
			members := make([]string, 0, len(refs)+1)
			for _, ref := range refs {
				addr := ctx.Config.ResolveAlias(ref)
				if addr == "" {
					return writeCommandError(cmd, fmt.Errorf("unknown member %q", ref))
				}
				members = append(members, addr)
			}
			if channelType != types.ChannelTypeTopic && ctx.Config.AIAddress != "" {
				members = append(members, ctx.Config.AIAddress)
			}

			info, err := ctx.Ledger.CreateChannel(cmd.Context(), db.ChannelInput{
				Title:   args[0],
				Type:    channelType,
				Creator: ctx.Config.Address,
				Members: members,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			return nil
		},
	}
	cmd.Flags().String("type", "ai-peer", "channel type: ai-home, ai-peer or topic")
	cmd.Flags().StringSlice("member", nil, "additional member address or alias (repeatable)")
	return cmd
}

func newDevnetJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <channel> <address>",
		Short: "Add a member to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channelID, err := resolveChannel(ctx.Config, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			addr := ctx.Config.ResolveAlias(args[1])
			if addr == "" {
				return writeCommandError(cmd, fmt.Errorf("unknown member %q", args[1]))
			}
			if err := ctx.Ledger.AddMember(cmd.Context(), channelID, addr); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", core.ShortAddress(addr))
			return nil
		},
	}
}

func newDevnetCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <channel>",
		Short: "Close a channel to new messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channelID, err := resolveChannel(ctx.Config, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			status := types.ChannelStatusClosed
			if ban, _ := cmd.Flags().GetBool("ban"); ban {
				status = types.ChannelStatusBanned
			}
			if err := ctx.Ledger.SetChannelStatus(cmd.Context(), channelID, status); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Channel %s\n", status)
			return nil
		},
	}
	cmd.Flags().Bool("ban", false, "mark the channel banned instead of closed")
	return cmd
}

func newDevnetSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <channel>",
		Short: "Append numbered messages from --as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channelID, err := resolveChannel(ctx.Config, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.Config.Address == "" {
				return writeCommandError(cmd, errors.New("sender required: pass --as"))
			}
			count, _ := cmd.Flags().GetInt("count")
			prefix, _ := cmd.Flags().GetString("prefix")

			var last uint64
			for i := 0; i < count; i++ {
				receipt, err := ctx.Ledger.SendMessage(cmd.Context(), types.SendRequest{
					ChannelID: channelID,
					Sender:    ctx.Config.Address,
					Content:   fmt.Sprintf("%s %d", prefix, i+1),
					ReplyTo:   types.NoReply,
				})
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("seed message %d: %w", i+1, err))
				}
				last = *receipt.Index
			}
			if count > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d messages (last #%d)\n", count, last)
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 100, "number of messages")
	cmd.Flags().String("prefix", "seed message", "message text prefix")
	return cmd
}

func newDevnetResponderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "responder",
		Short: "Run a stand-in AI that answers messages addressed to --ai",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetLedgerContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if ctx.Config.AIAddress == "" {
				return writeCommandError(cmd, errors.New("responder address required: pass --ai or set ai_address"))
			}
			delay, _ := cmd.Flags().GetDuration("reply-delay")
			responder, err := daemon.New(ctx.Ledger, daemon.Config{
				Address:       ctx.Config.AIAddress,
				TriggerTokens: ctx.Config.TriggerTokens,
				PollInterval:  time.Duration(ctx.Config.PollInterval),
				ReplyDelay:    delay,
				Logger:        ctx.Logger,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := responder.Start(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Responding as %s (ctrl-c to stop)\n", core.ShortAddress(responder.Address()))
			<-cmd.Context().Done()
			return responder.Stop()
		},
	}
	cmd.Flags().Duration("reply-delay", 2*time.Second, "pause before each reply, so the thinking state is visible")
	return cmd
}

func parseChannelType(name string) (types.ChannelType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ai-home", "home":
		return types.ChannelTypeAiHome, nil
	case "ai-peer", "peer", "":
		return types.ChannelTypeAiPeer, nil
	case "topic":
		return types.ChannelTypeTopic, nil
	}
	return 0, fmt.Errorf("unknown channel type %q (want ai-home, ai-peer or topic)", name)
}
