package command

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const maxDisplayLines = 20

var (
	noColor = os.Getenv("NO_COLOR") != ""

	dim   = ansiCode("\x1b[2m")
	bold  = ansiCode("\x1b[1m")
	gray  = ansiCode("\x1b[38;5;240m")
	reset = ansiCode("\x1b[0m")
	cyan  = ansiCode("\x1b[36m")
)

var senderColors = []string{
	ansiCode("\x1b[38;5;111m"),
	ansiCode("\x1b[38;5;157m"),
	ansiCode("\x1b[38;5;216m"),
	ansiCode("\x1b[38;5;36m"),
	ansiCode("\x1b[38;5;183m"),
	ansiCode("\x1b[38;5;230m"),
}

var mentionRe = regexp.MustCompile(`@(0x[0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9_\-]*)`)

// formatMessageLine formats a message for line-oriented output.
func formatMessageLine(msg types.Message) string {
	idBlock := fmt.Sprintf("%s[%s#%d%s %s]%s", dim, bold, msg.Index, reset, dim+msg.Time().Format("2006-01-02 15:04:05"), reset)
	sender := core.ShortAddress(msg.Sender)

	switch msg.Type {
	case types.MessageTypeSystem:
		return fmt.Sprintf("%s %s%s%s", idBlock, gray, msg.Content, reset)
	case types.MessageTypeAction:
		return fmt.Sprintf("%s %s* %s %s%s", idBlock, gray, sender, msg.Content, reset)
	}

	reply := ""
	if msg.HasReply() {
		reply = fmt.Sprintf(" %s↳#%d%s", dim, msg.ReplyTo, reset)
	}
	body := highlightMentions(truncateForDisplay(msg.Content, msg.Index))
	return fmt.Sprintf("%s%s %s%s%s: %s", idBlock, reply, senderColor(msg.Sender), sender, reset, body)
}

// formatCount renders a message count with thousands separators.
func formatCount(n uint64) string {
	return humanize.Comma(int64(n))
}

func ansiCode(code string) string {
	if noColor {
		return ""
	}
	return code
}

func senderColor(sender string) string {
	if noColor {
		return ""
	}
	return senderColors[hashString(core.NormalizeAddress(sender))%len(senderColors)]
}

func hashString(value string) int {
	hash := 0
	for i := 0; i < len(value); i++ {
		hash = ((hash << 5) - hash) + int(value[i])
	}
	if hash < 0 {
		return -hash
	}
	return hash
}

func highlightMentions(body string) string {
	if noColor {
		return body
	}
	matches := mentionRe.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body
	}

	var out strings.Builder
	last := 0
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		start, end := match[0], match[1]
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(body[:start])
			if isAlphaNum(prev) {
				continue
			}
		}
		out.WriteString(body[last:start])
		out.WriteString(cyan)
		out.WriteString(body[start:end])
		out.WriteString(reset)
		last = end
	}
	out.WriteString(body[last:])
	return out.String()
}

func truncateForDisplay(body string, index uint64) string {
	lines := strings.Split(body, "\n")
	if len(lines) <= maxDisplayLines {
		return body
	}

	truncated := strings.Join(lines[:maxDisplayLines], "\n")
	remaining := len(lines) - maxDisplayLines
	return fmt.Sprintf("%s\n... (%d more lines in message #%d)", truncated, remaining, index)
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
