package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/dgallion1/storygest/internal/storytree"
)

var htmlMarkdown = goldmark.New(
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// HTML renders a story as an <article> fragment. Story text is escaped, and
// line breaks inside a paragraph are kept.
func HTML(story *storytree.Story) (string, error) {
	if story == nil {
		return "", nil
	}

	var buf bytes.Buffer
	buf.WriteString("<article>\n")
	if err := htmlMarkdown.Convert([]byte(renderMarkdown(story, escapeMarkdown)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	buf.WriteString("</article>\n")
	return buf.String(), nil
}
