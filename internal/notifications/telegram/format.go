package telegram

import (
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"hookrouter/internal/types"
)

var (
	markdownEscaper   = newEscaper("_*`[")
	markdownV2Escaper = newEscaper("_*[]()~`>#+-=|{}.!\\")
)

func newEscaper(chars string) *strings.Replacer {
	pairs := make([]string, 0, 2*len(chars))
	for _, ch := range chars {
		pairs = append(pairs, string(ch), "\\"+string(ch))
	}
	return strings.NewReplacer(pairs...)
}

// FormatText renders a bold title followed by the body, escaped for mode.
func FormatText(content types.MessageContent, mode tele.ParseMode) string {
	var title, body string
	switch mode {
	case tele.ModeMarkdown:
		body = markdownEscaper.Replace(content.Body)
		if content.Title != "" {
			title = "*" + markdownEscaper.Replace(content.Title) + "*"
		}
	case tele.ModeMarkdownV2:
		body = markdownV2Escaper.Replace(content.Body)
		if content.Title != "" {
			title = "*" + markdownV2Escaper.Replace(content.Title) + "*"
		}
	case tele.ModeHTML:
		body = html.EscapeString(content.Body)
		if content.Title != "" {
			title = "<b>" + html.EscapeString(content.Title) + "</b>"
		}
	default:
		body, title = content.Body, content.Title
	}

	if title == "" {
		return body
	}
	return title + "\n\n" + body
}
