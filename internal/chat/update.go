package chat

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	inputHeight  = 3
	chromeHeight = 4 // header, thinking line, margin, status
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	case engineBatchMsg:
		for _, item := range msg {
			m.applyEngineMsg(item)
		}
		m.reportScroll()
		return m, m.bridge.Wait()
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	following := m.atBottom()
	m.width = msg.Width
	m.height = msg.Height
	m.resize()
	m.refreshContent()
	if following {
		m.viewport.GotoBottom()
	}
	m.reportScroll()
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		m.submit()
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyCtrlU, tea.KeyCtrlD:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.afterUserScroll()
		return m, cmd
	case tea.KeyCtrlHome:
		m.viewport.GotoTop()
		m.afterUserScroll()
		m.ctrl.RequestOlder()
		return m, nil
	case tea.KeyCtrlEnd:
		m.viewport.GotoBottom()
		m.afterUserScroll()
		m.ctrl.RequestLatest()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.afterUserScroll()
	return m, cmd
}

func (m *Model) afterUserScroll() {
	if m.atBottom() {
		m.unseenBelow = 0
	}
	m.reportScroll()
}

func (m *Model) submit() {
	body := strings.TrimSpace(m.input.Value())
	if body == "" {
		return
	}
	if m.address == "" {
		m.setError(errors.New("read-only: configure an address to send"))
		return
	}
	m.ctrl.Submit(types.SendRequest{
		ChannelID: m.channelID,
		Sender:    m.address,
		Content:   body,
		Mentions:  core.ExtractMentions(body, m.aliases),
		ReplyTo:   types.NoReply,
	})
	m.input.Reset()
	m.setStatus("sending…")
}

func (m *Model) applyEngineMsg(msg tea.Msg) {
	switch msg := msg.(type) {
	case logChangedMsg:
		m.applyLog(msg)
	case scrollAdjustMsg:
		m.applyAdjustment(msg.adj)
	case turnChangedMsg:
		m.turn = msg.state
	case staleChangedMsg:
		m.stale = msg.stale
	case sendResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return
		}
		m.setStatus("sent %s", core.ShortAddress(msg.receipt.TxHash))
	}
}

func (m *Model) applyLog(msg logChangedMsg) {
	if len(msg.messages) == 0 {
		// Fresh mount.
		m.tailIndex = -1
		m.unseenBelow = 0
	}
	m.arrived = m.arrived[:0]
	if msg.origin == engine.SlotTail && m.tailIndex >= 0 {
		for _, message := range msg.messages {
			if int64(message.Index) > m.tailIndex {
				m.arrived = append(m.arrived, message)
			}
		}
	}
	if n := len(msg.messages); n > 0 {
		m.tailIndex = int64(msg.messages[n-1].Index)
	}
	m.messages = msg.messages
	m.colorMap = buildColorMap(m.messages)
	m.heightBefore = m.viewport.TotalLineCount()
	m.refreshContent()
}

func (m *Model) applyAdjustment(adj engine.Adjustment) {
	switch adj.Kind {
	case engine.AdjustToBottom:
		m.viewport.GotoBottom()
		m.unseenBelow = 0
	case engine.AdjustPreserve:
		m.viewport.SetYOffset(adj.Compensate(m.viewport.YOffset, m.heightBefore, m.viewport.TotalLineCount()))
	case engine.AdjustNone:
		m.unseenBelow += len(m.arrived)
		ai := m.aiAddressFor()
		title := ""
		if info := m.ctrl.State().Info; info != nil {
			title = info.Title
		}
		for _, message := range m.arrived {
			if ai != "" && core.SameAddress(message.Sender, ai) {
				if err := SendNotification(m.notify, message, title); err != nil {
					m.setError(err)
				}
			}
		}
	}
	m.arrived = m.arrived[:0]
}

// reportScroll tells the engine where the reader is. Unchanged positions are
// not reported again.
func (m *Model) reportScroll() {
	v := engine.Viewport{
		Top:    m.viewport.YOffset,
		Height: m.viewport.TotalLineCount(),
		Client: m.viewport.Height,
	}
	if m.reported && v == m.lastReport {
		return
	}
	m.lastReport = v
	m.reported = true
	m.ctrl.Scrolled(v)
}

func (m *Model) resize() {
	m.input.SetWidth(m.width)
	height := m.height - inputHeight - chromeHeight
	if height < 1 {
		height = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = height
}

func (m *Model) refreshContent() {
	m.viewport.SetContent(renderMessages(m.messages, renderOptions{
		width:    m.width,
		now:      m.now(),
		address:  m.address,
		ai:       m.aiAddressFor(),
		colorMap: m.colorMap,
	}))
}

// atBottom reports whether the viewport shows the last line.
func (m *Model) atBottom() bool {
	return m.viewport.Height <= 0 || m.viewport.AtBottom()
}
