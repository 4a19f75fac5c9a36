package chat

import (
	"hash/fnv"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

var senderPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

var (
	userColor   = lipgloss.Color("252")
	aiColor     = lipgloss.Color("213")
	metaColor   = lipgloss.Color("241")
	statusColor = lipgloss.Color("245")
	staleColor  = lipgloss.Color("214")
	errorColor  = lipgloss.Color("203")
)

// buildColorMap assigns palette colors to senders, most recently active first,
// so the people currently talking get distinct colors.
func buildColorMap(messages []types.Message) map[string]lipgloss.Color {
	lastSeen := map[string]uint64{}
	for _, msg := range messages {
		key := core.NormalizeAddress(msg.Sender)
		if msg.Index >= lastSeen[key] {
			lastSeen[key] = msg.Index
		}
	}

	ordered := make([]string, 0, len(lastSeen))
	for sender := range lastSeen {
		ordered = append(ordered, sender)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if lastSeen[ordered[i]] != lastSeen[ordered[j]] {
			return lastSeen[ordered[i]] > lastSeen[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	colorMap := make(map[string]lipgloss.Color, len(ordered))
	for idx, sender := range ordered {
		colorMap[sender] = senderPalette[idx%len(senderPalette)]
	}
	return colorMap
}

func colorForSender(sender string, colorMap map[string]lipgloss.Color) lipgloss.Color {
	key := core.NormalizeAddress(sender)
	if color, ok := colorMap[key]; ok {
		return color
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return senderPalette[int(h.Sum32()%uint32(len(senderPalette)))]
}
