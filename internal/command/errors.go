package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/rpc"
)

// reportedError marks an error that was already written to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// IsReported reports whether err was already printed by a command.
func IsReported(err error) bool {
	var reported reportedError
	return errors.As(err, &reported)
}

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", hint)
	}
	return reportedError{err}
}

func errorHint(err error) string {
	var apiErr *rpc.APIError
	switch {
	case errors.Is(err, rpc.ErrReadOnly):
		return "the RPC client cannot sign transactions; use --ledger with a devnet to send"
	case errors.Is(err, db.ErrNotMember):
		return "join the channel first, or pick an identity with --as"
	case errors.Is(err, db.ErrChannelClosed), errors.Is(err, engine.ErrChannelInactive):
		return "the channel no longer accepts messages"
	case errors.Is(err, errNoSource):
		return "set rpc_url and package in ~/.config/ledgerchat/config.json, or run: ledgerchat devnet init"
	case errors.As(err, &apiErr) && apiErr.Status >= 500:
		return "the ledger node is having trouble; retry shortly"
	case isSchemaError(err):
		return "this ledger file predates the current schema; create a new one with: ledgerchat devnet init"
	}
	return ""
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
