package core

import "testing"

const (
	aiAddr    = "0x00000000000000000000000000000000000000000000000000000000000000a1"
	aliceAddr = "0x0000000000000000000000000000000000000000000000000000000000000b0b"
)

func TestExtractMentionsWithAliases(t *testing.T) {
	aliases := map[string]string{
		"ai":    aiAddr,
		"alice": aliceAddr,
	}

	body := "hey @ai and @Alice and mail test@test.com @unknown @0xb0b"
	mentions := ExtractMentions(body, aliases)

	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(mentions), mentions)
	}
	assertMention(t, mentions, aiAddr)
	assertMention(t, mentions, aliceAddr)
}

func TestExtractMentionsInlineAddress(t *testing.T) {
	mentions := ExtractMentions("ping @0xA1 please", nil)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	if !SameAddress(mentions[0], aiAddr) {
		t.Fatalf("expected %s to match ai address", mentions[0])
	}
}

func assertMention(t *testing.T, mentions []string, value string) {
	t.Helper()
	if MentionsAddress(mentions, value) {
		return
	}
	t.Fatalf("expected mention %s in %v", value, mentions)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0xA1", aiAddr},
		{"  0xa1 ", aiAddr},
		{aiAddr, aiAddr},
		{"rooch1abc", "rooch1abc"},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.input); got != tt.expected {
			t.Errorf("NormalizeAddress(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
	if SameAddress("", "") {
		t.Fatal("empty addresses must not match")
	}
}

func TestHasTriggerToken(t *testing.T) {
	tests := []struct {
		body     string
		expected bool
	}{
		{"/ai summarize this", true},
		{"  /AI: what now", true},
		{"/ai", true},
		{"/aid me", false},
		{"please /ai", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasTriggerToken(tt.body, DefaultTriggerTokens); got != tt.expected {
			t.Errorf("HasTriggerToken(%q) = %v, expected %v", tt.body, got, tt.expected)
		}
	}
}

func TestIsDirectAddress(t *testing.T) {
	aliases := map[string]string{"ai": aiAddr, "alice": aliceAddr}
	tests := []struct {
		body     string
		expected bool
	}{
		{"@ai hello", true},
		{"@alice @ai thoughts?", true},
		{"@ai, quick one", true},
		{"hello @ai", false},
		{"cc @ai", false},
		{"fyi: @ai", false},
		{"@alice only", false},
	}
	for _, tt := range tests {
		if got := IsDirectAddress(tt.body, aiAddr, aliases); got != tt.expected {
			t.Errorf("IsDirectAddress(%q) = %v, expected %v", tt.body, got, tt.expected)
		}
	}
}
