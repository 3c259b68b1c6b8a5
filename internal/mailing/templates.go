package mailing

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// defaultLayout is the HTML shell around a generated outreach body. Kept
// deliberately plain: cold outreach with heavy styling reads like bulk
// mail to both humans and filters. The hidden span is the inbox preview
// line.
const defaultLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, Helvetica, sans-serif; font-size: 14px; color: #222222; line-height: 1.5; margin: 0 auto; max-width: 600px; padding: 16px;">
<span style="display:none; max-height:0; overflow:hidden;">{{ preview | truncate: 90 }}</span>
{{ body_html }}
</body>
</html>`

// greetingTemplate opens bodies that arrive without a salutation.
const greetingTemplate = `Hi {{ name | first_name | capitalize | default: "there" }},`

// signatureTemplate closes bodies that arrive without a sign-off.
const signatureTemplate = `Best regards,
{{ sender_name | default: "The team" }}`

// TemplateService renders Liquid templates with a small filter set and a
// parse cache keyed by caller-supplied ids.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // template id -> *liquid.Template
}

// NewTemplateService builds the engine and registers the outreach filters.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}

	// Fallback value: {{ first_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// First letter upper, rest lower: {{ name | capitalize }}
	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// Truncate with ellipsis: {{ preview | truncate: 90 }}
	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// Leading word of a full name: {{ name | first_name }}
	ts.engine.RegisterFilter("first_name", func(s string) string {
		s = strings.TrimSpace(s)
		if i := strings.IndexByte(s, ' '); i > 0 {
			return s[:i]
		}
		return s
	})

	return ts
}

// Render compiles and renders a template, caching the compiled form under
// id for repeated use. A broken template is an error, never sent as-is.
func (ts *TemplateService) Render(id, source string, bindings map[string]interface{}) (string, error) {
	if id != "" {
		if cached, ok := ts.cache.Load(id); ok {
			return cached.(*liquid.Template).RenderString(bindings)
		}
	}

	tpl, err := ts.engine.ParseString(source)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", id, err)
	}
	if id != "" {
		ts.cache.Store(id, tpl)
	}
	return tpl.RenderString(bindings)
}

// htmlFromPlain converts a plain-text body into simple HTML: blank-line
// separated paragraphs, single newlines as <br>, everything escaped.
func htmlFromPlain(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(html.EscapeString(strings.TrimSpace(line)))
		}
		b.WriteString("</p>\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
