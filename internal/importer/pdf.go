package importer

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/dgallion1/storygest/internal/parser"
)

// PDFImporter reads text row by row with ledongthuc/pdf, optionally
// retrying with the pdftotext binary when the library cannot decode the file.
type PDFImporter struct {
	FallbackPdftotext bool
}

func (p *PDFImporter) Import(r io.Reader, filename string) (string, error) {
	// ledongthuc/pdf needs a ReaderAt and a size.
	tmp, err := os.CreateTemp("", "storygest-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r)
	tmp.Close()
	if err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}

	lines, err := pdfLines(tmp.Name())
	if err != nil && p.FallbackPdftotext {
		lines, err = pdftotextLines(tmp.Name())
	}
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var w storyWriter
	for _, line := range lines {
		switch {
		case line == "":
		case parser.IsHeading(line):
			w.heading(line)
		default:
			w.paragraph(line)
		}
	}
	return w.String(), nil
}

// pdfLines returns the trimmed text rows of every page in reading order.
func pdfLines(path string) (lines []string, err error) {
	defer func() {
		// The library panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var b strings.Builder
			for _, t := range row.Content {
				b.WriteString(t.S)
			}
			lines = append(lines, strings.TrimSpace(b.String()))
		}
	}
	return lines, nil
}

func pdftotextLines(path string) ([]string, error) {
	out, err := exec.Command("pdftotext", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(string(out), "\f", "\n"), "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines, nil
}
