package mailing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFilters(t *testing.T) {
	ts := NewTemplateService()

	tests := []struct {
		name     string
		source   string
		bindings map[string]interface{}
		want     string
	}{
		{"default fallback", `{{ name | default: "there" }}`, map[string]interface{}{"name": ""}, "there"},
		{"default passthrough", `{{ name | default: "there" }}`, map[string]interface{}{"name": "Jane"}, "Jane"},
		{"capitalize", `{{ word | capitalize }}`, map[string]interface{}{"word": "jANE"}, "Jane"},
		{"truncate", `{{ text | truncate: 8 }}`, map[string]interface{}{"text": "abcdefghijk"}, "abcde..."},
		{"truncate short input", `{{ text | truncate: 8 }}`, map[string]interface{}{"text": "short"}, "short"},
		{"first name", `{{ name | first_name }}`, map[string]interface{}{"name": "Jane van Doe"}, "Jane"},
		{"first name single word", `{{ name | first_name }}`, map[string]interface{}{"name": "Cher"}, "Cher"},
	}
	for _, tt := range tests {
		got, err := ts.Render("", tt.source, tt.bindings)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestRenderCachesCompiledTemplates(t *testing.T) {
	ts := NewTemplateService()

	first, err := ts.Render("greet", `A {{ x }}`, map[string]interface{}{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, "A 1", first)

	// Same id serves the cached compilation even when the source changed.
	second, err := ts.Render("greet", `B {{ x }}`, map[string]interface{}{"x": "2"})
	require.NoError(t, err)
	assert.Equal(t, "A 2", second)
}

func TestRenderRejectsBrokenTemplate(t *testing.T) {
	ts := NewTemplateService()
	_, err := ts.Render("", `{% if x %}never closed`, nil)
	require.Error(t, err)
}

func TestRenderLayout(t *testing.T) {
	ts := NewTemplateService()
	out, err := ts.Render("layout", defaultLayout, map[string]interface{}{
		"preview":   strings.Repeat("x", 120),
		"body_html": "<p>Hello</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "<p>Hello</p>")
	assert.Contains(t, out, strings.Repeat("x", 87)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 100))
}

func TestHTMLFromPlain(t *testing.T) {
	in := "First para\nsecond line\n\nSecond <b>para</b>"
	want := "<p>First para<br>second line</p>\n<p>Second &lt;b&gt;para&lt;/b&gt;</p>"
	assert.Equal(t, want, htmlFromPlain(in))

	assert.Equal(t, "", htmlFromPlain("   \n\n  "))
}
