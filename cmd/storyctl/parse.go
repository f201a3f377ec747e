package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/storygest/internal/importer"
	"github.com/dgallion1/storygest/internal/render"
	"github.com/dgallion1/storygest/internal/session"
	"github.com/dgallion1/storygest/internal/storytree"
	"github.com/dgallion1/storygest/internal/transport"
)

const maxParallelImports = 4

type parsedFile struct {
	File  string           `json:"file"`
	Story *storytree.Story `json:"story"`
}

func newParseCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "parse [files...]",
		Short: "Parse story files (or stdin) and print their structure",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "markdown", "json", "html":
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			var (
				parsed []parsedFile
				err    error
			)
			if len(args) == 0 {
				parsed, err = a.parseStdin(cmd.Context(), cmd.InOrStdin())
			} else {
				parsed, err = a.parseFiles(cmd.Context(), args)
			}
			if err != nil {
				return err
			}
			return writeParsed(cmd.OutOrStdout(), parsed, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output: markdown, json or html")
	return cmd
}

func (a *app) sessionOptions() session.Options {
	return session.Options{FlushDelay: a.cfg.FlushInterval, Logger: a.log}
}

func (a *app) parseStdin(ctx context.Context, in io.Reader) ([]parsedFile, error) {
	story, err := session.Collect(ctx, &transport.ReaderSource{R: in}, a.sessionOptions())
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	return []parsedFile{{File: "-", Story: story}}, nil
}

func (a *app) parseFiles(ctx context.Context, paths []string) ([]parsedFile, error) {
	for _, p := range paths {
		if !importer.IsSupportedExtension(p) {
			return nil, fmt.Errorf("%s: unsupported file type %q", p, filepath.Ext(p))
		}
	}

	results := make([]parsedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelImports)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			story, err := a.parseFile(gctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			results[i] = parsedFile{File: p, Story: story}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *app) parseFile(ctx context.Context, path string) (*storytree.Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := importer.Import(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	a.log.Debug("imported file", "path", path, "bytes", len(text))
	return session.Collect(ctx, transport.NewStorySource(text), a.sessionOptions())
}

func writeParsed(w io.Writer, parsed []parsedFile, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if len(parsed) == 1 {
			return enc.Encode(parsed[0].Story)
		}
		return enc.Encode(parsed)
	}

	for i, p := range parsed {
		if i > 0 {
			fmt.Fprintln(w)
		}
		var out string
		switch format {
		case "html":
			html, err := render.HTML(p.Story)
			if err != nil {
				return fmt.Errorf("%s: %w", p.File, err)
			}
			out = html
		default:
			out = render.Markdown(p.Story) + "\n"
		}
		if _, err := io.WriteString(w, out); err != nil {
			return err
		}
	}
	return nil
}
