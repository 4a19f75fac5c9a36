package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	testChannel  = "0xc4a1"
	otherChannel = "0xc4a2"
	userAddr     = "0xa11ce"
	aiAddr       = "0xa1"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func msg(index uint64, sender string) types.Message {
	return types.Message{
		Index:     index,
		ChannelID: testChannel,
		Sender:    sender,
		Content:   fmt.Sprintf("message %d", index),
		Timestamp: uint64(t0.Add(time.Duration(index) * time.Second).UnixMilli()),
		Type:      types.MessageTypeNormal,
		ReplyTo:   types.NoReply,
	}
}

func msgRange(from, to uint64, sender string) []types.Message {
	out := make([]types.Message, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, msg(i, sender))
	}
	return out
}

func find[T Effect](effects []Effect) []T {
	var out []T
	for _, effect := range effects {
		if v, ok := effect.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func only[T Effect](t *testing.T, effects []Effect) T {
	t.Helper()
	found := find[T](effects)
	if len(found) != 1 {
		var zero T
		t.Fatalf("expected exactly one %T, got %d in %#v", zero, len(found), effects)
	}
	return found[0]
}

func none[T Effect](t *testing.T, effects []Effect) {
	t.Helper()
	if found := find[T](effects); len(found) != 0 {
		t.Fatalf("expected no %T, got %#v", found[0], found)
	}
}

func indices(messages []types.Message) []uint64 {
	out := make([]uint64, len(messages))
	for i, m := range messages {
		out[i] = m.Index
	}
	return out
}
