package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"

	"github.com/dgallion1/storygest/internal/storytree"
)

const blockBreak = "\n\n"

// Terminal prints a story progressively as it grows. Only completed blocks
// are printed, and only while each new rendering extends what is already on
// screen; anything else waits for Finish.
type Terminal struct {
	out       io.Writer
	markdown  *glamour.TermRenderer
	plainText bool
	printed   string
}

func NewTerminal(out io.Writer, usePlainText bool, width int) (*Terminal, error) {
	t := &Terminal{out: out, plainText: usePlainText}
	if !usePlainText {
		if width <= 0 {
			width = 100
		}
		md, err := glamour.NewTermRenderer(
			markdown.WithWrap(width),
			glamour.WithAutoStyle(),
		)
		if err != nil {
			return nil, fmt.Errorf("create markdown renderer: %w", err)
		}
		t.markdown = md
	}
	return t, nil
}

// Update prints the blocks of story that are complete and not yet printed.
// Stories still in the single headingless chapter are held back: their
// structure can change once the first chapter marker arrives.
func (t *Terminal) Update(story *storytree.Story) error {
	if !hasHeadedChapter(story) {
		return nil
	}
	content := Markdown(story)
	if !strings.HasPrefix(content, t.printed) {
		return nil
	}
	idx := strings.LastIndex(content, blockBreak)
	if idx < 0 || idx+len(blockBreak) <= len(t.printed) {
		return nil
	}
	end := idx + len(blockBreak)
	if err := t.renderContent(content[len(t.printed):end]); err != nil {
		return err
	}
	t.printed = content[:end]
	return nil
}

// Finish prints whatever of the terminal story is not on screen yet. If the
// story diverged from what was printed, it is printed again in full.
func (t *Terminal) Finish(story *storytree.Story) error {
	content := Markdown(story)
	rest := content
	if strings.HasPrefix(content, t.printed) {
		rest = content[len(t.printed):]
	} else if t.printed != "" {
		fmt.Fprintln(t.out)
	}
	if strings.TrimSpace(rest) != "" {
		if err := t.renderContent(rest); err != nil {
			return err
		}
	}
	t.printed = content
	fmt.Fprintln(t.out)
	return nil
}

func (t *Terminal) renderContent(content string) error {
	if t.plainText {
		fmt.Fprint(t.out, content)
		return nil
	}

	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "#") {
		fmt.Fprintln(t.out)
	}

	mdContent, err := t.markdown.Render(content)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}

	fmt.Fprintln(t.out, strings.TrimSpace(mdContent))
	return nil
}

func hasHeadedChapter(story *storytree.Story) bool {
	if story == nil {
		return false
	}
	for _, ch := range story.Chapters {
		if ch.HasHeading() {
			return true
		}
	}
	return false
}

// ShouldUsePlainText reports whether output to f should skip styling: when
// format is "plain", f is not a terminal, NO_COLOR is set or TERM is dumb.
func ShouldUsePlainText(format string, f *os.File) bool {
	if format == "plain" {
		return true
	}

	if f != nil {
		if fileInfo, _ := f.Stat(); fileInfo != nil {
			if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
				return true
			}
		}
	}

	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}

	return os.Getenv("TERM") == "dumb"
}
