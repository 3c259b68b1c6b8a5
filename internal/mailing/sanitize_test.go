package mailing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

func TestSanitizeBodyStripsControls(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello\x00World", "HelloWorld"},
		{"line one\r\nline two", "line one\nline two"},
		{"tab\there", "tab\there"},
		{"bell\x07 and escape\x1b", "bell and escape"},
		{"\uFEFFbom", "bom"},
		{"caf\xc3", "caf"},       // truncated multibyte sequence
		{"a\xed\xa0\x80b", "ab"}, // unpaired surrogate as raw bytes
		{"plain text stays", "plain text stays"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeBody(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeLineFlattensNewlines(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Subject\r\nBcc: evil@x.io", "Subject Bcc: evil@x.io"},
		{"  padded  ", "padded"},
		{"tab\tseparated", "tab separated"},
		{"clean subject", "clean subject"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeLine(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"Hello\x00\x07World\r\n\uFEFF",
		"a\xed\xa0\x80b\xc3",
		"multi\nline\r\nwith\ttabs",
		"  spaced subject\r\n line ",
	}
	for _, in := range inputs {
		body := sanitizeBody(in)
		assert.Equal(t, body, sanitizeBody(body), "body pass on %q", in)
		line := sanitizeLine(in)
		assert.Equal(t, line, sanitizeLine(line), "line pass on %q", in)
	}
}

func TestSanitizeMessageRecordsDiff(t *testing.T) {
	msg := &domain.EmailMessage{
		Subject:     "Hello\r\nBcc: bad@x.io",
		ToName:      "Jane",
		FromName:    "Sender",
		HTMLContent: "<p>ok</p>",
		TextContent: "body\x00 text",
	}

	changed := sanitizeMessage(msg)
	assert.Equal(t, []string{"subject", "text_content"}, changed)
	assert.Equal(t, "Hello Bcc: bad@x.io", msg.Subject)
	assert.Equal(t, "body text", msg.TextContent)

	// Second pass finds nothing left to clean.
	assert.Empty(t, sanitizeMessage(msg))
}
