// ABOUTME: Renders conversation snapshots as Markdown or HTML transcripts
// ABOUTME: HTML output goes through goldmark with raw HTML in message content escaped

package conversation

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var transcriptMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderMarkdown renders conv as a Markdown document. Message content is
// included verbatim.
func RenderMarkdown(conv Conversation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversation %s\n\n", conv.ID)
	fmt.Fprintf(&b, "- Owner: %s\n", conv.Owner)
	fmt.Fprintf(&b, "- Started: %s\n", conv.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Messages: %d\n", len(conv.Messages))

	for _, m := range conv.Messages {
		author := string(m.Role)
		if m.Role == RoleClient {
			author = conv.Owner
		}
		fmt.Fprintf(&b, "\n### %s · %s\n\n", author, m.Timestamp.UTC().Format("15:04:05"))
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHTML renders conv as an HTML fragment. goldmark's default renderer
// omits raw HTML, so message content cannot inject markup.
func RenderHTML(conv Conversation) (string, error) {
	var buf bytes.Buffer
	if err := transcriptMarkdown.Convert([]byte(RenderMarkdown(conv)), &buf); err != nil {
		return "", fmt.Errorf("rendering transcript: %w", err)
	}
	return buf.String(), nil
}
