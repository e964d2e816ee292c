package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"hookrouter/internal/types"
)

// DefaultTitle is used when neither the template nor the payload provides one.
const DefaultTitle = "Notification"

// Named formats accepted by the formatDate helper.
const (
	DateFormatISO    = "iso"
	DateFormatDate   = "date"
	DateFormatTime   = "time"
	DateFormatLocale = "locale"
)

const maxCachedTemplates = 256

// noValue is what text/template prints for a missing map key.
const noValue = "<no value>"

// bareField matches Handlebars-style placeholders such as {{title}} or
// {{user.name}} so they can be rewritten to {{.title}} / {{.user.name}}.
var bareField = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// reserved are identifiers that must not be rewritten into field lookups.
var reserved = map[string]bool{
	"end": true, "else": true, "nil": true, "true": true, "false": true,
	"json": true, "uppercase": true, "lowercase": true, "truncate": true, "formatDate": true,
}

// Transformer renders event data into MessageContent using a closed set of
// template helpers. It never fails: any error yields fallback content.
type Transformer struct {
	logger types.Logger
	funcs  template.FuncMap

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// NewTransformer creates a Transformer with the built-in helper set.
func NewTransformer(logger types.Logger) *Transformer {
	return &Transformer{
		logger: logger,
		funcs:  helperFuncs(),
		cache:  make(map[string]*template.Template),
	}
}

// Transform renders data through spec. A JSON object result is read as
// structured content; any other output becomes the body.
func (t *Transformer) Transform(data map[string]any, spec *types.TransformSpec) types.MessageContent {
	if spec == nil || strings.TrimSpace(spec.Template) == "" {
		return fallbackContent(data)
	}
	if len(spec.Helpers) > 0 {
		t.logger.Warn("custom template helpers are not supported and were ignored; use json, uppercase, lowercase, truncate, formatDate",
			"helpers", len(spec.Helpers),
		)
	}

	rendered, err := t.Render(spec.Template, data)
	if err != nil {
		t.logger.Error("message transform failed, using fallback content", "error", err.Error())
		return fallbackContent(data)
	}

	if content, ok := parseStructured(rendered, data); ok {
		return content
	}
	return types.MessageContent{
		Body: rendered,
		Data: data,
	}
}

// Render executes tmpl against data and returns the raw output.
func (t *Transformer) Render(tmpl string, data map[string]any) (string, error) {
	parsed, err := t.parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

func (t *Transformer) parse(tmpl string) (*template.Template, error) {
	t.mu.RLock()
	cached, ok := t.cache[tmpl]
	t.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parsed, err := template.New("transform").Funcs(t.funcs).Parse(rewritePlaceholders(tmpl))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	t.mu.Lock()
	if len(t.cache) >= maxCachedTemplates {
		t.cache = make(map[string]*template.Template)
	}
	t.cache[tmpl] = parsed
	t.mu.Unlock()
	return parsed, nil
}

func rewritePlaceholders(tmpl string) string {
	return bareField.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := bareField.FindStringSubmatch(m)[1]
		if reserved[strings.SplitN(name, ".", 2)[0]] {
			return m
		}
		return "{{." + name + "}}"
	})
}

// parseStructured reads a rendered JSON object as content fields.
func parseStructured(rendered string, original map[string]any) (types.MessageContent, bool) {
	trimmed := strings.TrimSpace(rendered)
	if !strings.HasPrefix(trimmed, "{") {
		return types.MessageContent{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return types.MessageContent{}, false
	}

	content := types.MessageContent{
		Title: stringValue(obj["title"]),
		Body:  stringValue(obj["body"]),
		Data:  original,
	}
	if content.Body == "" {
		content.Body = stringValue(obj["message"])
	}
	if d, ok := obj["data"].(map[string]any); ok {
		content.Data = d
	}
	if raw, ok := obj["attachments"]; ok {
		decodeInto(raw, &content.Attachments)
	}
	if raw, ok := obj["actions"]; ok {
		decodeInto(raw, &content.Actions)
	}
	return content, true
}

// decodeInto converts a generic JSON value into a typed slice, leaving dst
// untouched when the shape does not fit.
func decodeInto(raw any, dst any) {
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}

// fallbackContent is used when a transform cannot be rendered.
func fallbackContent(data map[string]any) types.MessageContent {
	title := stringValue(data["title"])
	if title == "" {
		title = DefaultTitle
	}
	body := stringValue(data["message"])
	if body == "" {
		body = stringValue(data["body"])
	}
	if body == "" {
		body = dumpJSON(data)
	}
	return types.MessageContent{Title: title, Body: body, Data: data}
}

// DefaultContent builds content for rules without a transform.
func DefaultContent(data map[string]any) types.MessageContent {
	title := stringValue(data["title"])
	if title == "" {
		title = DefaultTitle
	}
	body := stringValue(data["message"])
	if body == "" {
		body = dumpJSON(data)
	}
	return types.MessageContent{Title: title, Body: body, Data: data}
}

// stringValue renders scalars as text; objects, arrays and null yield "".
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool, float64, float32, int, int64, int32, json.Number:
		return fmt.Sprint(s)
	}
	return ""
}

func dumpJSON(v any) string {
	b, err := marshalJSON(v, "")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// marshalJSON encodes v like json.Marshal but leaves &, < and > as they
// are, so payload text reaches recipients and keyword checks verbatim.
func marshalJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// helperFuncs is the complete helper set available to templates.
func helperFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) string {
			b, err := marshalJSON(v, "  ")
			if err != nil {
				return ""
			}
			return string(b)
		},
		"uppercase":  func(v any) string { return strings.ToUpper(text(v)) },
		"lowercase":  func(v any) string { return strings.ToLower(text(v)) },
		"truncate":   truncateHelper,
		"formatDate": formatDateHelper,
	}
}

func text(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// truncateHelper accepts (text, length) as well as the pipeline order
// (length, text).
func truncateHelper(a, b any) string {
	s, n := a, b
	if _, ok := toFloat(a); ok {
		s, n = b, a
	}
	str := text(s)
	limit, ok := toFloat(n)
	if !ok || limit < 0 {
		return str
	}
	runes := []rune(str)
	if len(runes) <= int(limit) {
		return str
	}
	return string(runes[:int(limit)]) + "..."
}

// formatDateHelper accepts (date, format) as well as the pipeline order
// (format, date).
func formatDateHelper(a, b any) string {
	date, format := a, b
	if f, ok := a.(string); ok && isDateFormat(f) {
		date, format = b, a
	}
	t, ok := parseDate(date)
	if !ok {
		return "Invalid Date"
	}
	t = t.UTC()
	switch text(format) {
	case DateFormatISO:
		return t.Format("2006-01-02T15:04:05.000Z")
	case DateFormatDate:
		return t.Format("1/2/2006")
	case DateFormatTime:
		return t.Format("3:04:05 PM")
	default:
		return t.Format("1/2/2006, 3:04:05 PM")
	}
}

func isDateFormat(s string) bool {
	switch s {
	case DateFormatISO, DateFormatDate, DateFormatTime, DateFormatLocale:
		return true
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate understands RFC 3339 strings, plain dates and epoch
// milliseconds.
func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}
