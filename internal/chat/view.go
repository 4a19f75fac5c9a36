package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

func (m *Model) View() string {
	lines := []string{
		m.headerLine(),
		m.viewport.View(),
		m.turnLine(),
		m.input.View(),
		m.statusLine(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) headerLine() string {
	state := m.ctrl.State()
	title := core.ShortAddress(m.channelID)
	parts := []string{}
	if state.Info != nil {
		if state.Info.Title != "" {
			title = state.Info.Title
		}
		parts = append(parts, state.Info.Type.String())
		if state.Info.Status != types.ChannelStatusActive {
			parts = append(parts, state.Info.Status.String())
		}
	}
	parts = append(parts, humanize.Comma(int64(state.Count))+" messages")
	if state.ReachedTop {
		parts = append(parts, "all loaded")
	}

	header := lipgloss.NewStyle().Bold(true).Render(title) +
		lipgloss.NewStyle().Foreground(statusColor).Render("  "+strings.Join(parts, " · "))
	if m.stale {
		header += lipgloss.NewStyle().Foreground(staleColor).Render("  ⚠ out of sync, retrying on next poll")
	}
	return header
}

func (m *Model) turnLine() string {
	style := lipgloss.NewStyle().Foreground(aiColor).Italic(true)
	switch {
	case m.turn.Thinking() && m.turn.Overdue:
		return style.Render("ai is taking longer than usual…")
	case m.turn.Thinking():
		return style.Render(fmt.Sprintf("ai is thinking… (%s)", relativeTime(m.turn.Since, m.now())))
	case m.unseenBelow > 0:
		return lipgloss.NewStyle().Foreground(statusColor).Render(
			fmt.Sprintf("↓ %d new %s below", m.unseenBelow, plural(m.unseenBelow, "message", "messages")))
	}
	return ""
}

func (m *Model) statusLine() string {
	if m.status == "" {
		return lipgloss.NewStyle().Foreground(statusColor).Render("pgup/pgdn scroll · ctrl+home older · ctrl+end latest · esc quit")
	}
	color := statusColor
	if m.statusErr {
		color = errorColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(m.status)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
