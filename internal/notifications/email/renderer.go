package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"hookrouter/internal/types"
)

// DefaultSubject is used when neither the entry nor the content supplies one.
const DefaultSubject = "Notification"

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// templateData is the struct passed into both templates.
type templateData struct {
	Title   string
	Body    string
	Lines   []string
	Buttons []types.Action
}

const htmlLayout = `<div style="font-family: Arial, sans-serif;">
{{- if .Title}}
<h2>{{.Title}}</h2>
{{- end}}
<p>{{range $i, $line := .Lines}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
{{- range .Buttons}}
<p><a href="{{.URL}}" style="display: inline-block; padding: 10px 20px; background-color: #007bff; color: #ffffff; text-decoration: none; border-radius: 4px;">{{.Text}}</a></p>
{{- end}}
</div>
`

const textLayout = `{{if .Title}}{{.Title}}

{{end}}{{.Body}}{{if .Buttons}}

{{range .Buttons}}{{.Text}}: {{.URL}}
{{end}}{{end}}`

// Renderer turns message content into an HTML body and a plain-text
// alternative. html/template escapes every piece of user text, and link
// targets with unsafe schemes are neutralised.
type Renderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewRenderer parses the built-in layouts.
func NewRenderer() (*Renderer, error) {
	h, err := template.New("html").Parse(htmlLayout)
	if err != nil {
		return nil, fmt.Errorf("parse html layout: %w", err)
	}
	t, err := texttemplate.New("text").Parse(textLayout)
	if err != nil {
		return nil, fmt.Errorf("parse text layout: %w", err)
	}
	return &Renderer{html: h, text: t}, nil
}

// Render produces both bodies. subject overrides the title-derived subject
// when non-empty.
func (r *Renderer) Render(content types.MessageContent, subject string) (*RenderedEmail, error) {
	data := templateData{
		Title:   content.Title,
		Body:    content.Body,
		Lines:   strings.Split(strings.ReplaceAll(content.Body, "\r\n", "\n"), "\n"),
		Buttons: linkActions(content.Actions),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}

	return &RenderedEmail{
		Subject:  resolveSubject(subject, content.Title),
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}

func resolveSubject(subject, title string) string {
	if s := strings.TrimSpace(subject); s != "" {
		return s
	}
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return DefaultSubject
}

// linkActions keeps the actions that carry a URL; email has no callbacks.
func linkActions(actions []types.Action) []types.Action {
	var out []types.Action
	for _, a := range actions {
		if a.URL != "" && a.Text != "" {
			out = append(out, a)
		}
	}
	return out
}
