package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/storygest/internal/parser"
)

// Importer extracts plain story text from a document. Headings come out as
// their own line so chapter markers survive; paragraphs are separated by a
// blank line.
type Importer interface {
	Import(r io.Reader, filename string) (string, error)
}

var supported = map[string]Importer{
	".txt":      &TextImporter{},
	".text":     &TextImporter{},
	".md":       &MarkdownImporter{},
	".markdown": &MarkdownImporter{},
	".html":     &HTMLImporter{},
	".htm":      &HTMLImporter{},
	".pdf":      &PDFImporter{FallbackPdftotext: true},
	".docx":     &DOCXImporter{},
}

// ForFile returns the importer for the given filename's extension.
func ForFile(filename string) (Importer, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if imp, ok := supported[ext]; ok {
		return imp, nil
	}
	return nil, fmt.Errorf("unsupported file type: %s", ext)
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	_, ok := supported[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Options tune format-specific behavior.
type Options struct {
	// PDFFallbackPdftotext retries failed PDF extraction with the pdftotext binary.
	PDFFallbackPdftotext bool
}

// DefaultOptions enables every fallback.
var DefaultOptions = Options{PDFFallbackPdftotext: true}

// Import picks the importer for filename and runs it with DefaultOptions.
func Import(r io.Reader, filename string) (string, error) {
	return DefaultOptions.Import(r, filename)
}

// Import picks the importer for filename and runs it.
func (o Options) Import(r io.Reader, filename string) (string, error) {
	imp, err := ForFile(filename)
	if err != nil {
		return "", err
	}
	if _, ok := imp.(*PDFImporter); ok {
		imp = &PDFImporter{FallbackPdftotext: o.PDFFallbackPdftotext}
	}
	text, err := imp.Import(r, filename)
	if err != nil {
		return "", err
	}
	return withTitle(text, filename), nil
}

// withTitle prepends a title derived from filename when the document opens
// directly on a chapter heading, which would otherwise be taken as the title.
func withTitle(text, filename string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	first, _, _ := strings.Cut(trimmed, "\n")
	if !parser.IsHeading(first) {
		return trimmed
	}
	return TitleFromFilename(filename) + "\n\n" + trimmed
}

// TitleFromFilename strips directory and extension.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// storyWriter assembles imported blocks into story text: a heading is
// followed directly by its first paragraph, other blocks by a blank line.
type storyWriter struct {
	b           strings.Builder
	lastHeading bool
}

func (w *storyWriter) heading(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
	w.b.WriteString(s)
	w.lastHeading = true
}

func (w *storyWriter) paragraph(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	switch {
	case w.b.Len() == 0:
	case w.lastHeading:
		w.b.WriteString("\n")
	default:
		w.b.WriteString("\n\n")
	}
	w.b.WriteString(s)
	w.lastHeading = false
}

func (w *storyWriter) empty() bool { return w.b.Len() == 0 }

func (w *storyWriter) String() string { return w.b.String() }
