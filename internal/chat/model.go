package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// Controller is the part of engine.Runner the chat view drives.
type Controller interface {
	Scrolled(v engine.Viewport)
	RequestOlder()
	RequestLatest()
	Submit(req types.SendRequest)
	State() engine.State
}

// Options configure chat.
type Options struct {
	Controller Controller
	Bridge     *Bridge
	ChannelID  string
	Address    string
	AIAddress  string
	Aliases    map[string]string
	Notifier   Notifier
	Now        func() time.Time
}

// Run starts the chat UI and blocks until the user quits or ctx is done.
func Run(ctx context.Context, opts Options) error {
	model, err := NewModel(opts)
	if err != nil {
		return err
	}
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Model implements the chat UI.
type Model struct {
	ctrl      Controller
	bridge    *Bridge
	channelID string
	address   string
	aiAddress string
	aliases   map[string]string
	notify    Notifier
	now       func() time.Time

	viewport viewport.Model
	input    textarea.Model
	width    int
	height   int

	messages  []types.Message
	colorMap  map[string]lipgloss.Color
	tailIndex int64
	turn      types.TurnState
	stale     bool
	status    string
	statusErr bool

	// Messages appended at the tail by the last log change, resolved once
	// the engine says whether the view follows them.
	arrived     []types.Message
	unseenBelow int
	// Content height in lines just before the last log change was rendered.
	heightBefore int
	lastReport  engine.Viewport
	reported    bool
}

// NewModel builds a chat model.
func NewModel(opts Options) (*Model, error) {
	if opts.Controller == nil {
		return nil, errors.New("chat requires a controller")
	}
	if opts.Bridge == nil {
		return nil, errors.New("chat requires an engine bridge")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	input := textarea.New()
	input.Placeholder = "Message (enter to send, /ai to ask the agent)"
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.CharLimit = 4000
	input.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	if opts.Address == "" {
		input.Placeholder = "Read-only: set an address to send"
	}
	input.Focus()

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true
	vp.MouseWheelDelta = 3

	return &Model{
		ctrl:      opts.Controller,
		bridge:    opts.Bridge,
		channelID: opts.ChannelID,
		address:   opts.Address,
		aiAddress: opts.AIAddress,
		aliases:   opts.Aliases,
		notify:    opts.Notifier,
		now:       opts.Now,
		viewport:  vp,
		input:     input,
		colorMap:  map[string]lipgloss.Color{},
		tailIndex: -1,
	}, nil
}

// Init starts listening for engine notifications.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.bridge.Wait())
}

// Close releases the bridge listener.
func (m *Model) Close() {
	m.bridge.Close()
}

// aiAddressFor returns the address treated as the AI for notifications.
func (m *Model) aiAddressFor() string {
	if m.aiAddress != "" {
		return m.aiAddress
	}
	state := m.ctrl.State()
	if state.Info != nil && state.Info.Type == types.ChannelTypeAiHome {
		return state.Info.Creator
	}
	return ""
}

func (m *Model) setStatus(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
}
