package command

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	alice = "0xa11ce"
	bob   = "0xb0b"
	ai    = "0xa1"
)

type devnet struct {
	t      *testing.T
	ledger string
}

func newDevnet(t *testing.T) *devnet {
	t.Helper()
	isolateConfig(t)
	d := &devnet{t: t, ledger: filepath.Join(t.TempDir(), "devnet.db")}
	if out, err := d.run("devnet", "init", d.ledger); err != nil {
		t.Fatalf("devnet init: %v\n%s", err, out)
	}
	return d
}

func (d *devnet) run(args ...string) (string, error) {
	d.t.Helper()
	full := append([]string{"--ledger", d.ledger}, args...)
	return executeCommand(NewRootCmd("test"), full...)
}

func (d *devnet) must(args ...string) string {
	d.t.Helper()
	out, err := d.run(args...)
	if err != nil {
		d.t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (d *devnet) channel(channelType string) string {
	d.t.Helper()
	return strings.TrimSpace(d.must("--as", alice, "--ai", ai, "devnet", "channel", "general", "--type", channelType))
}

func TestDevnetInitCreatesLedger(t *testing.T) {
	d := newDevnet(t)
	ledger, err := db.OpenLedger(d.ledger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ledger.Close()
	if ok, err := db.SchemaExists(ledger.DB()); err != nil || !ok {
		t.Fatalf("schema missing: %v", err)
	}
}

func TestSendCountAndHistory(t *testing.T) {
	d := newDevnet(t)
	channelID := d.channel("ai-peer")

	if out := d.must("--as", alice, "devnet", "seed", channelID, "--count", "137"); !strings.Contains(out, "last #136") {
		t.Fatalf("seed output %q", out)
	}
	if out := d.must("count", channelID); strings.TrimSpace(out) != "137" {
		t.Fatalf("count = %q", out)
	}

	out := d.must("--as", alice, "send", channelID, "hello", "@"+ai, "--reply-to", "136")
	if !strings.HasPrefix(out, "Sent #137") {
		t.Fatalf("send output %q", out)
	}

	out = d.must("--json", "history", channelID)
	var messages []types.Message
	if err := json.Unmarshal([]byte(out), &messages); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(messages) != 138 {
		t.Fatalf("history has %d messages", len(messages))
	}
	for i, msg := range messages {
		if msg.Index != uint64(i) {
			t.Fatalf("message %d has index %d", i, msg.Index)
		}
	}
	last := messages[137]
	if last.ReplyTo != 136 || len(last.Mentions) != 1 {
		t.Fatalf("unexpected last message %+v", last)
	}
}

func TestHistoryMaxPages(t *testing.T) {
	d := newDevnet(t)
	channelID := d.channel("topic")
	d.must("--as", alice, "devnet", "seed", channelID, "--count", "120")

	out := d.must("--json", "--page-size", "50", "history", channelID, "--max-pages", "2")
	var messages []types.Message
	if err := json.Unmarshal([]byte(out), &messages); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	// Pages 2 (20 messages) and 1 (50 messages).
	if len(messages) != 70 || messages[0].Index != 50 {
		t.Fatalf("got %d messages starting at %d", len(messages), messages[0].Index)
	}
}

func TestHistoryEmptyChannel(t *testing.T) {
	d := newDevnet(t)
	channelID := d.channel("ai-home")
	if out := d.must("history", channelID); !strings.Contains(out, "No messages") {
		t.Fatalf("history output %q", out)
	}
}

func TestSendRejections(t *testing.T) {
	d := newDevnet(t)
	channelID := d.channel("ai-peer")

	out, err := d.run("--as", bob, "send", channelID, "let me in")
	if !errors.Is(err, db.ErrNotMember) || !strings.Contains(out, "Hint: join the channel") {
		t.Fatalf("expected not-member error with hint, got %v\n%s", err, out)
	}

	if _, err := d.run("send", channelID, "who am i"); err == nil {
		t.Fatalf("expected error without --as")
	}

	d.must("devnet", "join", channelID, bob)
	d.must("--as", bob, "send", channelID, "thanks")

	d.must("devnet", "close", channelID)
	out, err = d.run("--as", alice, "send", channelID, "anyone?")
	if !errors.Is(err, db.ErrChannelClosed) || !strings.Contains(out, "no longer accepts") {
		t.Fatalf("expected closed error, got %v\n%s", err, out)
	}
}

func TestSendWithPayment(t *testing.T) {
	d := newDevnet(t)
	channelID := d.channel("ai-home")

	out := d.must("--json", "--as", alice, "--ai", ai, "send", channelID, "/ai", "tip", "--pay", "25")
	var receipt types.Receipt
	if err := json.Unmarshal([]byte(out), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Index == nil || *receipt.Index != 0 || !strings.HasPrefix(receipt.TxHash, "0x") {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestChannelsList(t *testing.T) {
	d := newDevnet(t)
	if out := d.must("channels"); !strings.Contains(out, "No channels") {
		t.Fatalf("channels output %q", out)
	}
	channelID := d.channel("topic")
	d.must("--as", alice, "devnet", "seed", channelID, "--count", "3")

	out := d.must("--json", "channels")
	var channels []types.ChannelSnapshot
	if err := json.Unmarshal([]byte(out), &channels); err != nil {
		t.Fatalf("decode channels: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != channelID || channels[0].TotalMessageCount != 3 || channels[0].Type != types.ChannelTypeTopic {
		t.Fatalf("unexpected channels %+v", channels)
	}
}

func TestChannelsNeedsLedger(t *testing.T) {
	isolateConfig(t)
	_, err := executeCommand(NewRootCmd("test"), "--rpc", "http://127.0.0.1:1", "--package", "0x3", "channels")
	if err == nil || !strings.Contains(err.Error(), "--ledger") {
		t.Fatalf("expected ledger requirement, got %v", err)
	}
}

func TestParseChannelType(t *testing.T) {
	tests := []struct {
		name    string
		want    types.ChannelType
		wantErr bool
	}{
		{"ai-home", types.ChannelTypeAiHome, false},
		{"Peer", types.ChannelTypeAiPeer, false},
		{"topic", types.ChannelTypeTopic, false},
		{"dm", 0, true},
	}
	for _, tt := range tests {
		got, err := parseChannelType(tt.name)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("parseChannelType(%q) = %v, %v", tt.name, got, err)
		}
	}
}
