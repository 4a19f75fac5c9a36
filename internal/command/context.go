package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/rpc"
)

// errNoSource is returned when neither a node nor a devnet ledger is configured.
var errNoSource = errors.New("no ledger configured: pass --rpc with --package, or --ledger for a local devnet")

// CommandContext provides shared command resources.
type CommandContext struct {
	Config   core.Config
	Source   engine.Source
	Ledger   *db.Ledger // set when Source is a local devnet ledger
	Logger   zerolog.Logger
	JSONMode bool
}

// Close releases the source.
func (c *CommandContext) Close() error {
	if c.Ledger != nil {
		return c.Ledger.Close()
	}
	return nil
}

// GetContext loads configuration, applies flag overrides and opens the source.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	jsonMode, _ := cmd.Flags().GetBool("json")
	ctx := &CommandContext{
		Config:   cfg,
		Logger:   newLogger(cmd),
		JSONMode: jsonMode,
	}

	switch {
	case cfg.LedgerPath != "":
		ledger, err := db.OpenLedger(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open devnet ledger: %w", err)
		}
		ledger.SetLogger(ctx.Logger)
		ctx.Ledger = ledger
		ctx.Source = ledger
	case cfg.RPCURL != "":
		if cfg.Package == "" {
			return nil, errors.New("--rpc needs --package (the chat package address)")
		}
		client, err := rpc.NewClient(cfg.RPCURL, cfg.Package, rpc.WithLogger(ctx.Logger))
		if err != nil {
			return nil, err
		}
		ctx.Source = client
	default:
		return nil, errNoSource
	}
	return ctx, nil
}

// GetLedgerContext is GetContext for commands that need the devnet ledger.
func GetLedgerContext(cmd *cobra.Command) (*CommandContext, error) {
	ctx, err := GetContext(cmd)
	if err != nil {
		return nil, err
	}
	if ctx.Ledger == nil {
		_ = ctx.Close()
		return nil, errors.New("this command needs a local devnet ledger (--ledger)")
	}
	return ctx, nil
}

func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if value, _ := flags.GetString("rpc"); value != "" {
		cfg.RPCURL = value
	}
	if value, _ := flags.GetString("package"); value != "" {
		cfg.Package = value
	}
	if value, _ := flags.GetString("ledger"); value != "" {
		cfg.LedgerPath = value
	}
	if value, _ := flags.GetString("as"); value != "" {
		cfg.Address = cfg.ResolveAlias(value)
		if cfg.Address == "" {
			return cfg, fmt.Errorf("unknown identity %q: use an address or a configured alias", value)
		}
	}
	if value, _ := flags.GetString("ai"); value != "" {
		cfg.AIAddress = value
	}
	if flags.Changed("page-size") {
		cfg.PageSize, _ = flags.GetInt("page-size")
	}
	if flags.Changed("poll") {
		interval, _ := flags.GetDuration("poll")
		cfg.PollInterval = core.Duration(interval)
	}
	return cfg, cfg.Validate()
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	if !debug {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

// resolveChannel accepts a channel id or an alias from the config file.
func resolveChannel(cfg core.Config, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("channel id required")
	}
	if core.IsAddress(ref) {
		return ref, nil
	}
	if id := cfg.ResolveAlias(ref); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("unknown channel %q", ref)
}
