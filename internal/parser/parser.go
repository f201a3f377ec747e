package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/dgallion1/storygest/internal/storytree"
)

// headingPattern matches a chapter heading once leading decoration is gone.
// Go's \s is ASCII-only, so horizontal Unicode spaces (NBSP etc.) are added.
var headingPattern = regexp.MustCompile(`(?i)^chapitre[\s\p{Zs}]+\d+`)

// scanState is the parser's position relative to chapter headings.
type scanState int

const (
	beforeFirstHeading scanState = iota
	insideChapter
)

// Parse turns the text received so far into a Story. It returns nil for empty
// or whitespace-only text. Parse is pure and total: calling it again on the same
// text yields a structurally identical result, and no input makes it fail.
func Parse(text string) *storytree.Story {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	lines := strings.Split(trimmed, "\n")

	title := StripDecoration(lines[0])
	if title == "" {
		title = storytree.DefaultTitle
	}

	var (
		state    = beforeFirstHeading
		chapters []storytree.Chapter
		intro    []string
		heading  string
		body     []string
	)

	// A heading with no paragraph yet is held back until it gains content.
	closeChapter := func() {
		paragraphs := Paragraphs(body)
		if heading == "" || len(paragraphs) == 0 {
			return
		}
		chapters = append(chapters, storytree.Chapter{Heading: heading, Paragraphs: paragraphs})
	}

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)

		if IsHeading(line) {
			closeChapter()
			state = insideChapter
			heading = StripDecoration(line)
			body = nil
			continue
		}

		switch state {
		case beforeFirstHeading:
			intro = append(intro, line)
		case insideChapter:
			body = append(body, line)
		}
	}
	closeChapter()

	if len(chapters) > 0 {
		if introParagraphs := Paragraphs(intro); len(introParagraphs) > 0 {
			merged := make([]string, 0, len(introParagraphs)+len(chapters[0].Paragraphs))
			merged = append(merged, introParagraphs...)
			merged = append(merged, chapters[0].Paragraphs...)
			chapters[0].Paragraphs = merged
		}
		return &storytree.Story{Title: title, Chapters: chapters}
	}

	// No heading recognized: every non-empty line after the title is a paragraph.
	fallback := make([]string, 0, len(lines)-1)
	for _, raw := range lines[1:] {
		if line := strings.TrimSpace(raw); line != "" {
			fallback = append(fallback, line)
		}
	}
	return &storytree.Story{
		Title:    title,
		Chapters: []storytree.Chapter{{Heading: "", Paragraphs: fallback}},
	}
}

// IsHeading reports whether a single line is a chapter heading such as
// "Chapitre 2 — Le retour", "## CHAPITRE 3" or "**chapitre 1 - x**".
func IsHeading(line string) bool {
	stripped := StripDecoration(line)
	if stripped == "" {
		return false
	}
	return headingPattern.MatchString(stripped)
}

// StripDecoration removes leading markdown-ish decoration (#, *, _, -) and
// surrounding whitespace from a line.
func StripDecoration(line string) string {
	line = strings.TrimLeftFunc(line, func(r rune) bool {
		switch r {
		case '#', '*', '_', '-':
			return true
		}
		return unicode.IsSpace(r)
	})
	return strings.TrimSpace(line)
}

// Paragraphs groups lines into paragraphs separated by runs of blank lines.
// Lines inside a paragraph are joined with a newline; each paragraph is trimmed
// and empty paragraphs are dropped. The result is never nil.
func Paragraphs(lines []string) []string {
	paragraphs := []string{}
	var current strings.Builder

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if p := strings.TrimSpace(current.String()); p != "" {
				paragraphs = append(paragraphs, p)
			}
			current.Reset()
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		paragraphs = append(paragraphs, p)
	}

	return paragraphs
}
