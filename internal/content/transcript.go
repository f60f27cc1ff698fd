package content

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
)

// RenderTranscript renders a conversation as a sanitized HTML fragment.
// Message bodies are treated as markdown. Names map participant ids to
// display names; unknown ids are shown as-is.
func RenderTranscript(title string, messages []models.ChatMessage, names map[string]string) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", escapeMarkdown(title))

	for _, m := range messages {
		name := names[m.FromID]
		if name == "" {
			name = m.FromID
		}
		ts := time.UnixMilli(m.Timestamp).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(&md, "**%s** (%s) · %s\n\n", escapeMarkdown(name), m.FromRole, ts)
		md.WriteString(strings.TrimSpace(m.Message))
		md.WriteString("\n\n---\n\n")
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md.String()), &buf); err != nil {
		return "", fmt.Errorf("failed to render transcript: %w", err)
	}
	return Sanitize(buf.String()), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`", `#`, `\#`, `[`, `\[`, `]`, `\]`, `<`, `&lt;`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
