package observer

import (
	"regexp"
	"strings"
)

// ChatRow is one chat-list entry as read from the live surface.
type ChatRow struct {
	Name    string   `json:"name"`
	Preview string   `json:"preview"`
	Aria    string   `json:"aria"`  // accessibility label of the row
	Icons   []string `json:"icons"` // data-icon names visible in the row
}

// Signal is one independent boolean detection heuristic. Signals are
// combined by OR: any one firing is sufficient.
type Signal struct {
	Name  string
	Match func(row ChatRow) bool
}

func anyMatch(signals []Signal, row ChatRow) (string, bool) {
	for _, s := range signals {
		if s.Match(row) {
			return s.Name, true
		}
	}
	return "", false
}

func hasIcon(row ChatRow, names ...string) bool {
	for _, icon := range row.Icons {
		for _, want := range names {
			if icon == want {
				return true
			}
		}
	}
	return false
}

// groupSenderPrefix matches group previews of the form "Sender: text"
// where the sender is a phone number or a tilde-prefixed push name.
var groupSenderPrefix = regexp.MustCompile(`^(~\s?\S|\+?\d[\d\s().-]{6,}:)`)

// DefaultExclusionSignals returns the heuristics that exclude a row from
// processing: groups, broadcasts, communities and system chats.
func DefaultExclusionSignals() []Signal {
	return []Signal{
		{
			Name: "group_icon",
			Match: func(row ChatRow) bool {
				return hasIcon(row, "default-group", "group", "community", "community-filled")
			},
		},
		{
			Name: "broadcast_icon",
			Match: func(row ChatRow) bool {
				return hasIcon(row, "default-broadcast", "broadcast", "megaphone", "newsletter")
			},
		},
		{
			Name: "aria_group",
			Match: func(row ChatRow) bool {
				aria := strings.ToLower(row.Aria)
				return strings.Contains(aria, "group") || strings.Contains(aria, "broadcast") ||
					strings.Contains(aria, "community") || strings.Contains(aria, "channel")
			},
		},
		{
			Name: "group_sender_prefix",
			Match: func(row ChatRow) bool {
				return groupSenderPrefix.MatchString(strings.TrimSpace(row.Preview))
			},
		},
	}
}

// DefaultAuthorshipSignals returns the heuristics that mark a row's most
// recent item as operator-authored. False negatives here are the primary
// race risk, so the set is deliberately broad.
func DefaultAuthorshipSignals() []Signal {
	return []Signal{
		{
			Name: "sender_prefix",
			Match: func(row ChatRow) bool {
				preview := strings.TrimSpace(row.Preview)
				for _, prefix := range []string{"You:", "you:"} {
					if strings.HasPrefix(preview, prefix) {
						return true
					}
				}
				return false
			},
		},
		{
			Name: "receipt_icon",
			Match: func(row ChatRow) bool {
				return hasIcon(row, "msg-check", "msg-dblcheck", "msg-dblcheck-ack", "status-check", "status-dblcheck")
			},
		},
		{
			Name: "aria_outgoing",
			Match: func(row ChatRow) bool {
				aria := strings.ToLower(row.Aria)
				return strings.Contains(aria, "delivered") || strings.Contains(aria, "read by") ||
					strings.Contains(aria, "you sent") || strings.Contains(aria, "sent:")
			},
		},
	}
}

// placeholderPatterns match transient system previews that must never be
// answered.
var placeholderPatterns = []string{
	"typing…",
	"typing...",
	"recording audio",
	"recording voice",
	"online",
	"last seen",
	"messages are end-to-end encrypted",
	"this chat is with a business account",
}

// IsPlaceholder reports whether the preview is a transient system
// placeholder rather than message content.
func IsPlaceholder(preview string) bool {
	p := strings.ToLower(strings.TrimSpace(preview))
	if p == "" {
		return true
	}
	for _, pattern := range placeholderPatterns {
		if p == pattern || strings.HasPrefix(p, pattern) {
			return true
		}
	}
	return false
}
