package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

var errHistoryStalled = errors.New("history sync stalled after retry")

const historyCheckInterval = 50 * time.Millisecond

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <channel>",
		Short: "Load a channel backward to its first message and print it",
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
			maxPages, _ := cmd.Flags().GetInt("max-pages")

			view := &historyView{changed: make(chan struct{}, 1)}
			err = runSession(cmd, ctx, channelID, view, sessionOptions{}, func(runCtx context.Context, runner *engine.Runner) error {
				return loadHistory(runCtx, runner, view, maxPages)
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			messages := view.snapshot()
			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				if messages == nil {
					messages = []types.Message{}
				}
				return json.NewEncoder(out).Encode(messages)
			}
			if len(messages) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}
			for _, msg := range messages {
				fmt.Fprintln(out, formatMessageLine(msg))
			}
			return nil
		},
	}

	cmd.Flags().Int("max-pages", 0, "stop after this many pages (0 loads everything)")
	return cmd
}

// historyView keeps the latest log snapshot.
type historyView struct {
	engine.BaseView
	mu       sync.Mutex
	messages []types.Message
	stale    bool
	changed  chan struct{}
}

func (v *historyView) OnLogChanged(messages []types.Message, _ engine.Slot) {
	v.mu.Lock()
	v.messages = messages
	v.mu.Unlock()
	v.signal()
}

func (v *historyView) OnStaleChanged(stale bool) {
	v.mu.Lock()
	v.stale = stale
	v.mu.Unlock()
	v.signal()
}

func (v *historyView) signal() {
	select {
	case v.changed <- struct{}{}:
	default:
	}
}

func (v *historyView) snapshot() []types.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.messages
}

func (v *historyView) isStale() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stale
}

// loadHistory requests older pages until the first page is loaded.
func loadHistory(ctx context.Context, runner *engine.Runner, view *historyView, maxPages int) error {
	ticker := time.NewTicker(historyCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-view.changed:
		case <-ticker.C:
		}

		if view.isStale() {
			return errHistoryStalled
		}
		state := runner.State()
		if state.ReachedTop {
			return nil
		}
		if maxPages > 0 && len(state.LoadedPages) >= maxPages {
			return nil
		}
		if len(state.LoadedPages) > 0 && state.HeadInFlight == nil {
			runner.RequestOlder()
		}
	}
}
