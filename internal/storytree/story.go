package storytree

import "strings"

// DefaultTitle is used when the first line of a story carries no usable text.
const DefaultTitle = "Une histoire du soir"

// wordsPerMinute is a calm read-aloud pace for bedtime reading.
const wordsPerMinute = 130

// Story is the root of a parsed story.
type Story struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter is one headed section of a story. Paragraph order is document order.
type Chapter struct {
	Heading    string   `json:"heading"`    // Empty for the headingless fallback chapter
	Paragraphs []string `json:"paragraphs"` // Never nil in parser output
}

// HasHeading reports whether the chapter has a heading to display.
func (c Chapter) HasHeading() bool {
	return c.Heading != ""
}

// WordCount counts whitespace-separated words across all paragraphs, title excluded.
func (s *Story) WordCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ch := range s.Chapters {
		for _, p := range ch.Paragraphs {
			n += len(strings.Fields(p))
		}
	}
	return n
}

// ReadingMinutes estimates read-aloud duration, rounded up; zero for an
// empty story.
func (s *Story) ReadingMinutes() int {
	return (s.WordCount() + wordsPerMinute - 1) / wordsPerMinute
}

// ParagraphCount returns the number of paragraphs across all chapters.
func (s *Story) ParagraphCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ch := range s.Chapters {
		n += len(ch.Paragraphs)
	}
	return n
}
