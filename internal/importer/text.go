package importer

import (
	"bufio"
	"io"
	"strings"
	"unicode"
)

// TextImporter handles plain text files. Lines are kept as written; runs of
// blank lines collapse to one.
type TextImporter struct{}

func (p *TextImporter) Import(r io.Reader, filename string) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	blank := false
	for scanner.Scan() {
		line := strings.TrimRightFunc(scanner.Text(), unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			blank = out.Len() > 0
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n")
			if blank {
				out.WriteString("\n")
			}
		}
		out.WriteString(line)
		blank = false
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == ' '
}
