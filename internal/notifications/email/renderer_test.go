package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

func TestRender_EscapesUserText(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(types.MessageContent{
		Title: `Deploy <prod> & "friends"`,
		Body:  "line one\nline <two>",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, `Deploy <prod> & "friends"`, out.Subject)
	assert.Contains(t, out.BodyHTML, `<div style="font-family: Arial, sans-serif;">`)
	assert.Contains(t, out.BodyHTML, "<h2>Deploy &lt;prod&gt; &amp; &#34;friends&#34;</h2>")
	assert.Contains(t, out.BodyHTML, "line one<br>line &lt;two&gt;")
	assert.NotContains(t, out.BodyHTML, "<prod>")
}

func TestRender_TextAlternative(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(types.MessageContent{
		Title: "Build failed",
		Body:  "main is red",
		Actions: []types.Action{
			{Type: types.ActionButton, Text: "Logs", URL: "https://ci.example.com/42"},
			{Type: types.ActionButton, Text: "Ack", Action: "ack"},
		},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "Build failed\n\nmain is red\n\nLogs: https://ci.example.com/42\n", out.BodyText)
	assert.Contains(t, out.BodyHTML, `<a href="https://ci.example.com/42"`)
	assert.Equal(t, 1, strings.Count(out.BodyHTML, "<a "), "callback actions are not rendered")
}

func TestRender_UnsafeLinkNeutralised(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(types.MessageContent{
		Body:    "x",
		Actions: []types.Action{{Type: types.ActionLink, Text: "click", URL: "javascript:alert(1)"}},
	}, "")
	require.NoError(t, err)
	assert.NotContains(t, out.BodyHTML, "javascript:")
}

func TestRender_SubjectFallbacks(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(types.MessageContent{Title: "T", Body: "B"}, "Custom")
	require.NoError(t, err)
	assert.Equal(t, "Custom", out.Subject)

	out, err = r.Render(types.MessageContent{Body: "B"}, "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, out.Subject)
	assert.Equal(t, "B", out.BodyText)
	assert.NotContains(t, out.BodyHTML, "<h2>")
}
