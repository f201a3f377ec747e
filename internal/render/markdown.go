package render

import (
	"strings"

	"github.com/dgallion1/storygest/internal/storytree"
)

// Markdown renders a story as Markdown: the title as a level-one heading,
// each chapter heading as level two, paragraphs separated by blank lines.
// A chapter without a heading contributes only its paragraphs.
func Markdown(story *storytree.Story) string {
	return renderMarkdown(story, func(s string) string { return s })
}

func renderMarkdown(story *storytree.Story, escape func(string) string) string {
	if story == nil {
		return ""
	}

	var blocks []string
	blocks = append(blocks, "# "+escape(story.Title))
	for _, ch := range story.Chapters {
		if ch.HasHeading() {
			blocks = append(blocks, "## "+escape(ch.Heading))
		}
		for _, p := range ch.Paragraphs {
			blocks = append(blocks, escape(p))
		}
	}
	return strings.Join(blocks, "\n\n")
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`<`, `\<`,
	`>`, `\>`,
	`#`, `\#`,
	`|`, `\|`,
)

// escapeMarkdown neutralizes inline markup and line-leading block markers so
// story text renders literally.
func escapeMarkdown(s string) string {
	lines := strings.Split(markdownEscaper.Replace(s), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		switch {
		case strings.HasPrefix(trimmed, "-"), strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "="):
			lines[i] = `\` + trimmed
		case startsWithOrderedMarker(trimmed):
			idx := strings.IndexAny(trimmed, ".)")
			lines[i] = trimmed[:idx] + `\` + trimmed[idx:]
		default:
			lines[i] = trimmed
		}
	}
	return strings.Join(lines, "\n")
}

func startsWithOrderedMarker(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')')
}
