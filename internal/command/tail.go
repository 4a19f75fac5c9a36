package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// NewTailCmd creates the tail command.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <channel>",
		Short: "Print a channel's latest messages and follow new ones",
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
			pattern, _ := cmd.Flags().GetString("sender")
			filter, err := compileSenderFilter(pattern, ctx.Config)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			view := newTailView(filter)
			err = runSession(cmd, ctx, channelID, view, sessionOptions{}, func(runCtx context.Context, _ *engine.Runner) error {
				return view.print(runCtx, cmd.OutOrStdout(), ctx.JSONMode)
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("sender", "", "only show senders matching this glob (address or alias, e.g. '0xa1*')")
	addSessionFlags(cmd)
	return cmd
}

// compileSenderFilter matches normalized sender addresses against pattern.
// An alias is resolved to its address first.
func compileSenderFilter(pattern string, cfg core.Config) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	if resolved := cfg.ResolveAlias(pattern); resolved != "" && !core.IsAddress(pattern) {
		pattern = resolved
	}
	exact := core.IsAddress(pattern)
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid --sender pattern %q: %w", pattern, err)
	}
	return func(sender string) bool {
		if exact {
			return core.SameAddress(sender, pattern)
		}
		return g.Match(sender) || g.Match(core.NormalizeAddress(sender))
	}, nil
}

type tailEvent struct {
	message *types.Message
	turn    *types.TurnState
	stale   *bool
}

// tailView prints each message once, in index order, as it reaches the tail
// of the log. Older pages loaded later are not printed.
type tailView struct {
	engine.BaseView
	match func(string) bool

	mu      sync.Mutex
	printed int64
	queue   []tailEvent
	notify  chan struct{}
}

func newTailView(match func(string) bool) *tailView {
	return &tailView{match: match, printed: -1, notify: make(chan struct{}, 1)}
}

func (v *tailView) OnLogChanged(messages []types.Message, _ engine.Slot) {
	v.mu.Lock()
	if len(messages) == 0 {
		v.printed = -1
	}
	for i := range messages {
		msg := messages[i]
		if int64(msg.Index) <= v.printed {
			continue
		}
		v.printed = int64(msg.Index)
		if v.match(msg.Sender) {
			v.queue = append(v.queue, tailEvent{message: &msg})
		}
	}
	v.mu.Unlock()
	v.signal()
}

func (v *tailView) OnTurnStateChanged(state types.TurnState) {
	v.enqueue(tailEvent{turn: &state})
}

func (v *tailView) OnStaleChanged(stale bool) {
	v.enqueue(tailEvent{stale: &stale})
}

func (v *tailView) enqueue(ev tailEvent) {
	v.mu.Lock()
	v.queue = append(v.queue, ev)
	v.mu.Unlock()
	v.signal()
}

func (v *tailView) signal() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *tailView) drain() []tailEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.queue
	v.queue = nil
	return out
}

func (v *tailView) print(ctx context.Context, out io.Writer, jsonMode bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.notify:
		}
		for _, ev := range v.drain() {
			if err := writeTailEvent(out, ev, jsonMode); err != nil {
				return err
			}
		}
	}
}

func writeTailEvent(out io.Writer, ev tailEvent, jsonMode bool) error {
	switch {
	case ev.message != nil:
		if jsonMode {
			return json.NewEncoder(out).Encode(ev.message)
		}
		_, err := fmt.Fprintln(out, formatMessageLine(*ev.message))
		return err
	case jsonMode:
		// Only messages are emitted as JSON lines.
		return nil
	case ev.turn != nil:
		_, err := fmt.Fprintf(out, "· turn: %s\n", ev.turn.Phase)
		return err
	case ev.stale != nil && *ev.stale:
		_, err := fmt.Fprintln(out, "· sync stalled, retrying on next poll")
		return err
	case ev.stale != nil:
		_, err := fmt.Fprintln(out, "· sync recovered")
		return err
	}
	return nil
}
