package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	alice = "0xa11ce"
	bob   = "0xb0b"
	aiBot = "0xa1"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close()
	})
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return ledger
}

func createTestChannel(t *testing.T, ledger *Ledger, channelType types.ChannelType, members ...string) types.ChannelInfo {
	t.Helper()
	info, err := ledger.CreateChannel(context.Background(), ChannelInput{
		Title:   "general",
		Type:    channelType,
		Creator: alice,
		Members: members,
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return info
}

func send(t *testing.T, ledger *Ledger, channelID, sender, content string) uint64 {
	t.Helper()
	receipt, err := ledger.SendMessage(context.Background(), types.SendRequest{
		ChannelID: channelID,
		Sender:    sender,
		Content:   content,
		ReplyTo:   types.NoReply,
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if receipt.Index == nil {
		t.Fatalf("receipt missing index")
	}
	return *receipt.Index
}
