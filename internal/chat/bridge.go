package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// Messages delivered from the engine to the model.
type (
	logChangedMsg struct {
		messages []types.Message
		origin   engine.Slot
	}
	turnChangedMsg struct {
		state types.TurnState
	}
	scrollAdjustMsg struct {
		adj engine.Adjustment
	}
	staleChangedMsg struct {
		stale bool
	}
	sendResultMsg struct {
		receipt *types.Receipt
		err     error
	}
	// engineBatchMsg carries every notification queued since the last drain,
	// in the order the engine emitted them.
	engineBatchMsg []tea.Msg
)

// Bridge adapts engine.View to the bubbletea event loop. The runner calls it
// from its own goroutine; the model pulls queued notifications with Wait.
type Bridge struct {
	mu      sync.Mutex
	pending []tea.Msg
	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

var _ engine.View = (*Bridge)(nil)

func (b *Bridge) OnLogChanged(messages []types.Message, origin engine.Slot) {
	b.push(logChangedMsg{messages: messages, origin: origin})
}

func (b *Bridge) OnTurnStateChanged(state types.TurnState) {
	b.push(turnChangedMsg{state: state})
}

func (b *Bridge) OnScrollAdjustmentNeeded(adj engine.Adjustment) {
	b.push(scrollAdjustMsg{adj: adj})
}

func (b *Bridge) OnStaleChanged(stale bool) {
	b.push(staleChangedMsg{stale: stale})
}

func (b *Bridge) OnSendResult(receipt *types.Receipt, err error) {
	b.push(sendResultMsg{receipt: receipt, err: err})
}

// Close releases a pending Wait.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closed) })
}

// Wait returns a command that blocks until the engine has something to say.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.notify:
		case <-b.closed:
			return nil
		}
		return b.drain()
	}
}

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) drain() engineBatchMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := engineBatchMsg(b.pending)
	b.pending = nil
	return batch
}
