package engine

import (
	"slices"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// MessageLog is the deduplicated, index-ordered set of messages known for
// one channel. Messages are never removed except by Reset.
type MessageLog struct {
	channelID string
	messages  []types.Message
	known     map[uint64]struct{}
}

// MergeResult describes what a merge changed.
type MergeResult struct {
	Added   int
	Dropped int
	// Tail is the newest message after the merge, nil when the log is empty.
	Tail *types.Message
	// TailChanged is set when the merge advanced the tail to a higher index.
	TailChanged bool
}

// NewMessageLog creates an empty log for channelID.
func NewMessageLog(channelID string) *MessageLog {
	return &MessageLog{
		channelID: channelID,
		known:     make(map[uint64]struct{}),
	}
}

// Reset empties the log and rebinds it to channelID.
func (l *MessageLog) Reset(channelID string) {
	l.channelID = channelID
	l.messages = nil
	l.known = make(map[uint64]struct{})
}

// ChannelID returns the channel the log belongs to.
func (l *MessageLog) ChannelID() string {
	return l.channelID
}

// Merge inserts the messages whose index is not yet known. Entries that fail
// validation or belong to another channel are dropped. Merging the same batch
// twice leaves the log unchanged.
func (l *MessageLog) Merge(incoming []types.Message) MergeResult {
	result := MergeResult{}
	prevTail, hadTail := l.Tail()

	for _, msg := range incoming {
		if msg.Validate() != nil || !sameChannel(msg.ChannelID, l.channelID) {
			result.Dropped++
			continue
		}
		if _, ok := l.known[msg.Index]; ok {
			continue
		}
		l.known[msg.Index] = struct{}{}
		l.messages = append(l.messages, msg)
		result.Added++
	}

	if result.Added > 0 {
		slices.SortFunc(l.messages, func(a, b types.Message) int {
			switch {
			case a.Index < b.Index:
				return -1
			case a.Index > b.Index:
				return 1
			}
			return 0
		})
	}

	if tail, ok := l.Tail(); ok {
		result.Tail = &tail
		result.TailChanged = !hadTail || tail.Index > prevTail.Index
	}
	return result
}

// Len returns the number of stored messages.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// Tail returns the message with the highest index.
func (l *MessageLog) Tail() (types.Message, bool) {
	if len(l.messages) == 0 {
		return types.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// TailIndex returns the highest known index, or -1 for an empty log.
func (l *MessageLog) TailIndex() int64 {
	tail, ok := l.Tail()
	if !ok {
		return -1
	}
	return int64(tail.Index)
}

// Contains reports whether index is already stored.
func (l *MessageLog) Contains(index uint64) bool {
	_, ok := l.known[index]
	return ok
}

// Snapshot returns a copy of the ordered log.
func (l *MessageLog) Snapshot() []types.Message {
	return slices.Clone(l.messages)
}

func sameChannel(a, b string) bool {
	return a == b || core.NormalizeAddress(a) == core.NormalizeAddress(b)
}
