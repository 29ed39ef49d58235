package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// reminderLog 把已送达的提醒整理成 markdown 列表，最新的在最上面
// reminderLog keeps delivered reminders as a markdown list, newest first.
type reminderLog struct {
	items []string
}

func (l *reminderLog) add(at, text string) {
	item := fmt.Sprintf("- **%s** %s", at, escapeMarkdown(text))
	l.items = append([]string{item}, l.items...)
}

func (l *reminderLog) markdown() string {
	return strings.Join(l.items, "\n")
}

func (l *reminderLog) len() int { return len(l.items) }

var markdownEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(strings.ReplaceAll(s, "\n", " "))
}

// optionLine formats one numbered menu option, truncated to width cells.
func optionLine(n int, label string, width int) string {
	num := fmt.Sprintf("#%d", n)
	line := "  " + num + " " + label
	if width > 0 && runewidth.StringWidth(line) > width {
		line = runewidth.Truncate(line, width, "…")
	}
	return line
}
