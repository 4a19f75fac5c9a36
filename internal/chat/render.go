package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

type renderOptions struct {
	width    int
	now      time.Time
	address  string
	ai       string
	colorMap map[string]lipgloss.Color
}

func renderMessages(messages []types.Message, opts renderOptions) string {
	if len(messages) == 0 {
		return lipgloss.NewStyle().Foreground(metaColor).Render("No messages yet.")
	}
	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		blocks = append(blocks, renderMessage(msg, opts))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(msg types.Message, opts renderOptions) string {
	meta := lipgloss.NewStyle().Foreground(metaColor)
	body := lipgloss.NewStyle()
	if opts.width > 2 {
		body = body.Width(opts.width - 2)
	}

	switch msg.Type {
	case types.MessageTypeSystem:
		return meta.Italic(true).Render(fmt.Sprintf("» %s", msg.Content))
	case types.MessageTypeAction:
		return meta.Render(fmt.Sprintf("* %s %s", senderLabel(msg.Sender, opts), msg.Content))
	}

	name := lipgloss.NewStyle().Bold(true).Foreground(senderColor(msg.Sender, opts)).Render(senderLabel(msg.Sender, opts))
	header := name + meta.Render(fmt.Sprintf("  #%d · %s", msg.Index, relativeTime(msg.Time(), opts.now)))
	if msg.HasReply() {
		header += meta.Render(fmt.Sprintf("  ↳ #%d", msg.ReplyTo))
	}
	if opts.address != "" && core.MentionsAddress(msg.Mentions, opts.address) {
		body = body.Bold(true)
	}
	return header + "\n" + body.Render(msg.Content)
}

func senderLabel(sender string, opts renderOptions) string {
	switch {
	case opts.address != "" && core.SameAddress(sender, opts.address):
		return "you"
	case opts.ai != "" && core.SameAddress(sender, opts.ai):
		return "ai"
	}
	return core.ShortAddress(sender)
}

func senderColor(sender string, opts renderOptions) lipgloss.Color {
	switch {
	case opts.address != "" && core.SameAddress(sender, opts.address):
		return userColor
	case opts.ai != "" && core.SameAddress(sender, opts.ai):
		return aiColor
	}
	return colorForSender(sender, opts.colorMap)
}

func relativeTime(t, now time.Time) string {
	if now.Sub(t) < time.Minute && !t.After(now) {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
