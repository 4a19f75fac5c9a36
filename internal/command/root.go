package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/core"
)

const AppName = "ledgerchat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "ledgerchat - terminal client for ledger-backed AI chat",
		Long:          "ledgerchat syncs ledger chat channels incrementally and lets you talk with the channel's AI agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	flags := cmd.PersistentFlags()
	flags.String("rpc", "", "ledger node JSON-RPC URL")
	flags.String("package", "", "chat package address on the ledger")
	flags.String("ledger", "", "path to a local devnet ledger (overrides --rpc)")
	flags.String("as", "", "your address or alias")
	flags.String("ai", "", "address of the AI participant")
	flags.Int("page-size", core.DefaultPageSize, "messages per page")
	flags.Duration("poll", core.DefaultPollInterval, "message count poll interval")
	flags.Bool("json", false, "output in JSON format")
	flags.Bool("debug", false, "log sync activity to stderr")

	cmd.AddCommand(
		NewChatCmd(),
		NewTailCmd(),
		NewHistoryCmd(),
		NewSendCmd(),
		NewCountCmd(),
		NewChannelsCmd(),
		NewDevnetCmd(),
	)

	return cmd
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(Version).ExecuteContext(ctx)
}
