package mailing

import (
	"strings"
	"unicode"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// sanitizeBody strips control characters from multi-line content. Newlines
// and tabs survive; carriage returns, other controls and invalid UTF-8
// (which is how unpaired surrogates surface in Go strings) are dropped.
// Running it twice yields the same output.
func sanitizeBody(s string) string {
	return sanitizeRunes(s, true)
}

// sanitizeLine strips control characters from single-line fields such as
// subjects and display names. Newlines become spaces so a crafted value
// cannot smuggle extra lines into the wire format.
func sanitizeLine(s string) string {
	return strings.TrimSpace(sanitizeRunes(s, false))
}

func sanitizeRunes(s string, keepNewlines bool) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			if keepNewlines {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case r == '\r':
			// dropped, so \r\n collapses to \n
		case unicode.IsControl(r) || r == '\uFEFF':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeMessage cleans every header and content field in place and
// returns the names of the fields it changed. Empty on a clean message,
// which makes re-sanitizing a no-op.
func sanitizeMessage(msg *domain.EmailMessage) []string {
	var changed []string
	if v := sanitizeLine(msg.Subject); v != msg.Subject {
		msg.Subject = v
		changed = append(changed, "subject")
	}
	if v := sanitizeLine(msg.ToName); v != msg.ToName {
		msg.ToName = v
		changed = append(changed, "to_name")
	}
	if v := sanitizeLine(msg.FromName); v != msg.FromName {
		msg.FromName = v
		changed = append(changed, "from_name")
	}
	if v := sanitizeBody(msg.HTMLContent); v != msg.HTMLContent {
		msg.HTMLContent = v
		changed = append(changed, "html_content")
	}
	if v := sanitizeBody(msg.TextContent); v != msg.TextContent {
		msg.TextContent = v
		changed = append(changed, "text_content")
	}
	return changed
}
