package core

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	mentionRe     = regexp.MustCompile(`@(0x[0-9a-fA-F]{1,64}|rooch1[0-9a-z]{20,90}|[a-zA-Z][a-zA-Z0-9_\-]{1,31})`)
	hexAddressRe  = regexp.MustCompile(`^0x[0-9a-f]{1,64}$`)
	bechAddressRe = regexp.MustCompile(`^rooch1[0-9a-z]{20,90}$`)
)

// DefaultTriggerTokens are message prefixes that always address the AI.
var DefaultTriggerTokens = []string{"/ai"}

// NormalizeAddress canonicalizes a ledger address for comparison.
// Hex addresses are lower-cased and left-padded to 64 digits.
func NormalizeAddress(addr string) string {
	value := strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(value, "0x") {
		return value
	}
	digits := strings.TrimPrefix(value, "0x")
	if len(digits) < 64 {
		digits = strings.Repeat("0", 64-len(digits)) + digits
	}
	return "0x" + digits
}

// IsAddress reports whether value looks like a ledger address.
func IsAddress(value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	return hexAddressRe.MatchString(normalized) || bechAddressRe.MatchString(normalized)
}

// SameAddress reports whether two addresses refer to the same account.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ShortAddress abbreviates an address for display.
func ShortAddress(addr string) string {
	value := strings.TrimSpace(addr)
	if len(value) <= 12 {
		return value
	}
	return value[:6] + "…" + value[len(value)-4:]
}

// ExtractMentions returns the addresses mentioned in body.
// Inline addresses are returned as-is; names resolve through aliases
// (name -> address). Unknown names are skipped.
func ExtractMentions(body string, aliases map[string]string) []string {
	matches := mentionRe.FindAllStringSubmatchIndex(body, -1)
	mentions := make([]string, 0, len(matches))
	seen := map[string]struct{}{}

	for _, match := range matches {
		if len(match) < 4 {
			continue
		}
		start := match[0]
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(body[:start])
			if isAlphaNum(prev) {
				continue
			}
		}

		name := body[match[2]:match[3]]
		address := ""
		if IsAddress(name) {
			address = name
		} else if aliases != nil {
			address = aliases[strings.ToLower(name)]
		}
		if address == "" {
			continue
		}
		key := NormalizeAddress(address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		mentions = append(mentions, address)
	}

	return mentions
}

// MentionsAddress reports whether mentions contains addr.
func MentionsAddress(mentions []string, addr string) bool {
	for _, mention := range mentions {
		if SameAddress(mention, addr) {
			return true
		}
	}
	return false
}

// HasTriggerToken reports whether body begins with one of the reserved
// trigger tokens, followed by whitespace or the end of the message.
func HasTriggerToken(body string, tokens []string) bool {
	trimmed := strings.TrimLeftFunc(body, unicode.IsSpace)
	lowered := strings.ToLower(trimmed)
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || !strings.HasPrefix(lowered, token) {
			continue
		}
		rest := trimmed[len(token):]
		if rest == "" {
			return true
		}
		next, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsSpace(next) || next == ':' {
			return true
		}
	}
	return false
}

// IsDirectAddress reports whether the AI is addressed at the start of the
// message: "@ai hello" is direct, "hello @ai" is not, and "cc @ai" is FYI.
func IsDirectAddress(body, addr string, aliases map[string]string) bool {
	trimmed := strings.TrimSpace(body)
	lowered := strings.ToLower(trimmed)

	fyiPrefixes := []string{"fyi ", "fyi:", "cc ", "cc:", "heads up "}
	for _, prefix := range fyiPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return false
		}
	}
	if !strings.HasPrefix(trimmed, "@") {
		return false
	}

	for _, word := range strings.Fields(trimmed) {
		if !strings.HasPrefix(word, "@") {
			break
		}
		word = strings.TrimRight(word, ".,;:!?")
		if MentionsAddress(ExtractMentions(word, aliases), addr) {
			return true
		}
	}
	return false
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
