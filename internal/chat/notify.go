package chat

import (
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// Notifier raises a desktop notification.
type Notifier func(title, body string) error

// DesktopNotifier sends notifications through the OS notification center.
func DesktopNotifier(title, body string) error {
	return beeep.Notify(title, body, "")
}

// SendNotification notifies about an AI reply in channelTitle.
func SendNotification(notify Notifier, msg types.Message, channelTitle string) error {
	if notify == nil {
		return nil
	}
	title := "@" + core.ShortAddress(msg.Sender)
	if channelTitle != "" {
		title = channelTitle + " · " + title
	}
	return notify(title, truncateNotification(msg.Content, 100))
}

func truncateNotification(s string, maxLen int) string {
	// Collapse whitespace for notification
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
