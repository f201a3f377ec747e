package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dgallion1/storygest/internal/generate"
	"github.com/dgallion1/storygest/internal/render"
	"github.com/dgallion1/storygest/internal/session"
	"github.com/dgallion1/storygest/internal/transport"
)

type generateFlags struct {
	upstream string
	apiKey   string
	minutes  int
	style    string
	universe string
	keywords string
	moral    string
	profile  string
	format   string
	width    int
}

func newGenerateCmd(a *app) *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate [keywords]",
		Short: "Generate a story and render it as it streams",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && f.keywords == "" {
				f.keywords = args[0]
			}
			return a.generate(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.upstream, "upstream", "", "Story endpoint URL (overrides upstream_url)")
	flags.StringVar(&f.apiKey, "api-key", "", "Bearer token for the story endpoint")
	flags.IntVarP(&f.minutes, "minutes", "m", 0, "Reading time: 3, 5 or 10 minutes")
	flags.StringVar(&f.style, "style", "", "Educatif, Amusant, Aventure or Magique")
	flags.StringVar(&f.universe, "universe", "", "Story setting")
	flags.StringVarP(&f.keywords, "keywords", "k", "", "Comma-separated keywords")
	flags.StringVar(&f.moral, "moral", "", "Moral of the story")
	flags.StringVar(&f.profile, "profile", "", "Family profile")
	flags.StringVar(&f.format, "format", "", "Output: auto, plain or markdown")
	flags.IntVar(&f.width, "width", 0, "Wrap width for styled output")
	return cmd
}

// request merges flags over the configured story defaults.
func (a *app) request(f generateFlags) generate.Request {
	req := generate.Request{
		Minutes:       a.cfg.Story.Minutes,
		Style:         generate.Style(a.cfg.Story.Style),
		Universe:      generate.Universe(a.cfg.Story.Universe),
		Keywords:      f.keywords,
		Moral:         f.moral,
		FamilyProfile: a.cfg.Story.FamilyProfile,
	}
	if f.minutes != 0 {
		req.Minutes = f.minutes
	}
	if f.style != "" {
		req.Style = generate.Style(f.style)
	}
	if f.universe != "" {
		req.Universe = generate.Universe(f.universe)
	}
	if f.profile != "" {
		req.FamilyProfile = f.profile
	}
	req.Normalize()
	return req
}

func (a *app) generate(cmd *cobra.Command, f generateFlags) error {
	upstream := firstNonEmpty(f.upstream, a.cfg.UpstreamURL)
	if upstream == "" {
		return errors.New("no upstream configured: set upstream_url or pass --upstream")
	}

	req := a.request(f)
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	out := cmd.OutOrStdout()
	file, _ := out.(*os.File)
	format := firstNonEmpty(f.format, a.cfg.Render.Format)
	plain := file == nil || render.ShouldUsePlainText(format, file)
	width := f.width
	if width == 0 {
		width = a.cfg.Render.Width
	}
	term, err := render.NewTerminal(out, plain, width)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		final    error
		finished bool
	)
	ctrl := session.NewController(func(u session.Update) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case u.Err != nil:
			final = u.Err
		case u.Done:
			finished = true
			final = term.Finish(u.Story)
		default:
			if err := term.Update(u.Story); err != nil {
				a.log.Warn("render update failed", "error", err)
			}
		}
	}, session.Options{
		FlushDelay: a.cfg.FlushInterval,
		Logger:     a.log,
	})

	src := &transport.HTTPSource{
		URL:     upstream,
		APIKey:  firstNonEmpty(f.apiKey, a.cfg.UpstreamAPIKey),
		Request: req,
		Client:  transport.NewHTTPClient(),
	}
	a.log.Debug("requesting story", "upstream", upstream, "minutes", req.Minutes, "target_words", req.TargetWords())

	s := ctrl.Start(ctx, src)
	if err := s.Wait(context.Background()); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if final != nil {
		return final
	}
	if !finished {
		return ctx.Err()
	}
	a.log.Debug("story complete", "bytes", s.Received(), "flushes", s.Flushes())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
