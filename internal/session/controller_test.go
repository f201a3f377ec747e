package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dgallion1/storygest/internal/accumulator"
	"github.com/dgallion1/storygest/internal/parser"
	"github.com/dgallion1/storygest/internal/storytree"
	"github.com/dgallion1/storygest/internal/transport"
)

const sampleStory = "Le Lapin Bleu\n\nChapitre 1 — Le départ\nIl était une fois un lapin.\n\nIl aimait les carottes.\n\nChapitre 2 — Le retour\nIl rentra chez lui."

type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) listen(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) all() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.updates...)
}

func (c *collector) last(t *testing.T) Update {
	t.Helper()
	all := c.all()
	if len(all) == 0 {
		t.Fatal("expected at least one update")
	}
	return all[len(all)-1]
}

func wait(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("session %d did not finish: %v", s.ID(), err)
	}
}

// manualClock never fires on its own; Advance runs every pending timer.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	f       func()
	stopped bool
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) accumulator.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Advance() {
	c.mu.Lock()
	var due []func()
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func waitPending(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.acc.PendingLen() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for pending text")
		}
		time.Sleep(time.Millisecond)
	}
}

type sourceFunc func(ctx context.Context) (*transport.Response, error)

func (f sourceFunc) Open(ctx context.Context) (*transport.Response, error) { return f(ctx) }

func TestController_StreamsToCompletion(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{})

	s := c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader(sampleStory)})
	wait(t, s)

	u := col.last(t)
	if !u.Done || u.Err != nil {
		t.Fatalf("expected successful completion, got %+v", u)
	}
	if u.Session != s.ID() {
		t.Errorf("expected session %d, got %d", s.ID(), u.Session)
	}
	if diff := cmp.Diff(parser.Parse(sampleStory), u.Story); diff != "" {
		t.Errorf("final story mismatch (-want +got):\n%s", diff)
	}
	if len(u.Story.Chapters) != 2 {
		t.Errorf("expected 2 chapters, got %d", len(u.Story.Chapters))
	}
	if c.Current() != nil {
		t.Error("expected no current session after completion")
	}
}

func TestController_OneBytePerChunk(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{ChunkSize: 1})

	s := c.Start(context.Background(), &transport.ReaderSource{R: iotest.OneByteReader(strings.NewReader(sampleStory))})
	wait(t, s)

	u := col.last(t)
	if !u.Done {
		t.Fatalf("expected completion, got %+v", u)
	}
	if diff := cmp.Diff(parser.Parse(sampleStory), u.Story); diff != "" {
		t.Errorf("byte-at-a-time story differs from single chunk (-want +got):\n%s", diff)
	}
	if strings.ContainsRune(s.Text(), '\uFFFD') {
		t.Error("expected multi-byte characters to survive chunk splits")
	}
}

func TestController_PayloadMatchesStream(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{})

	s := c.Start(context.Background(), transport.NewStorySource(sampleStory))
	wait(t, s)

	u := col.last(t)
	if !u.Done {
		t.Fatalf("expected completion, got %+v", u)
	}
	if diff := cmp.Diff(parser.Parse(sampleStory), u.Story); diff != "" {
		t.Errorf("payload story mismatch (-want +got):\n%s", diff)
	}
}

func TestController_EmptyContent(t *testing.T) {
	for _, body := range []string{"", "  \n\t\n "} {
		col := &collector{}
		c := NewController(col.listen, Options{})
		s := c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader(body)})
		wait(t, s)

		u := col.last(t)
		if !errors.Is(u.Err, ErrEmptyContent) {
			t.Errorf("body %q: expected ErrEmptyContent, got %v", body, u.Err)
		}
		if u.Err.Error() != "Aucun contenu reçu" {
			t.Errorf("unexpected message %q", u.Err.Error())
		}
	}
}

func TestController_GenerationError(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{})
	s := c.Start(context.Background(), transport.NewErrorSource("Quota dépassé", http.StatusTooManyRequests))
	wait(t, s)

	var ge *GenerationError
	u := col.last(t)
	if !errors.As(u.Err, &ge) {
		t.Fatalf("expected GenerationError, got %v", u.Err)
	}
	if ge.Message != "Quota dépassé" || ge.StatusCode != http.StatusTooManyRequests {
		t.Errorf("unexpected error %+v", ge)
	}
	if u.Err.Error() != "Oups… Quota dépassé" {
		t.Errorf("unexpected message %q", u.Err.Error())
	}
}

func TestController_GenerationErrorDefaultMessage(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{})
	s := c.Start(context.Background(), &transport.PayloadSource{})
	wait(t, s)

	var ge *GenerationError
	if !errors.As(col.last(t).Err, &ge) || ge.Message != DefaultGenerationError {
		t.Errorf("expected default generation error, got %v", col.last(t).Err)
	}
}

func TestController_UnexpectedContentType(t *testing.T) {
	body := "<html>" + strings.Repeat("x", 1000) + "</html>"
	src := sourceFunc(func(ctx context.Context) (*transport.Response, error) {
		return &transport.Response{
			StatusCode:  http.StatusBadGateway,
			ContentType: "text/html",
			Body:        io.NopCloser(strings.NewReader(body)),
		}, nil
	})

	col := &collector{}
	c := NewController(col.listen, Options{})
	s := c.Start(context.Background(), src)
	wait(t, s)

	var te *TransportError
	u := col.last(t)
	if !errors.As(u.Err, &te) {
		t.Fatalf("expected TransportError, got %v", u.Err)
	}
	if te.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", te.StatusCode)
	}
	msg := te.Error()
	if !strings.Contains(msg, "<html>") || strings.Contains(msg, "</html>") {
		t.Errorf("expected a 300-byte body preview, got %q", msg)
	}
}

func TestController_OpenFailure(t *testing.T) {
	cause := errors.New("connection refused")
	src := sourceFunc(func(ctx context.Context) (*transport.Response, error) { return nil, cause })

	col := &collector{}
	c := NewController(col.listen, Options{})
	s := c.Start(context.Background(), src)
	wait(t, s)

	u := col.last(t)
	if !IsTransport(u.Err) || !errors.Is(u.Err, cause) {
		t.Errorf("expected TransportError wrapping cause, got %v", u.Err)
	}
	if u.Story != nil {
		t.Error("expected no story on failure")
	}
}

func TestController_TooLarge(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{MaxBytes: 10})
	s := c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader(sampleStory)})
	wait(t, s)

	u := col.last(t)
	if !IsTransport(u.Err) || !errors.Is(u.Err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", u.Err)
	}
}

func TestController_PayloadTooLarge(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{MaxBytes: 10})
	s := c.Start(context.Background(), transport.NewStorySource(strings.Repeat("x", 100)))
	wait(t, s)

	u := col.last(t)
	if !IsTransport(u.Err) || !errors.Is(u.Err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", u.Err)
	}
}

func TestController_IntermediateUpdates(t *testing.T) {
	clock := &manualClock{}
	col := &collector{}
	c := NewController(col.listen, Options{Clock: clock})

	pr, pw := io.Pipe()
	s := c.Start(context.Background(), &transport.ReaderSource{R: pr})

	pw.Write([]byte("Le Lapin Bleu\nChapitre 1\nIl pleut.\n"))
	waitPending(t, s)
	clock.Advance()

	all := col.all()
	if len(all) != 1 {
		t.Fatalf("expected 1 intermediate update, got %d", len(all))
	}
	want := &storytree.Story{
		Title:    "Le Lapin Bleu",
		Chapters: []storytree.Chapter{{Heading: "Chapitre 1", Paragraphs: []string{"Il pleut."}}},
	}
	if diff := cmp.Diff(want, all[0].Story); diff != "" {
		t.Errorf("intermediate story mismatch (-want +got):\n%s", diff)
	}
	if all[0].Done {
		t.Error("intermediate update must not be terminal")
	}

	pw.Write([]byte("Chapitre 2\nFin."))
	pw.Close()
	wait(t, s)

	u := col.last(t)
	if !u.Done || len(u.Story.Chapters) != 2 {
		t.Errorf("expected final story with 2 chapters, got %+v", u)
	}
}

func TestController_SupersededSessionIsSilent(t *testing.T) {
	clock := &manualClock{}
	col := &collector{}
	c := NewController(col.listen, Options{Clock: clock})

	pr, pw := io.Pipe()
	first := c.Start(context.Background(), &transport.ReaderSource{R: pr})
	pw.Write([]byte("Ancien titre\nChapitre 1\nAncien texte.\n"))
	waitPending(t, first)

	second := c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader(sampleStory)})
	clock.Advance()
	pw.Close()
	wait(t, first)
	wait(t, second)

	all := col.all()
	if len(all) == 0 {
		t.Fatal("expected updates from the second session")
	}
	for _, u := range all {
		if u.Session != second.ID() {
			t.Fatalf("received update from superseded session %d: %+v", u.Session, u)
		}
	}
	if !all[len(all)-1].Done {
		t.Error("expected second session to complete")
	}
}

func TestController_CancelIsSilent(t *testing.T) {
	col := &collector{}
	c := NewController(col.listen, Options{Clock: &manualClock{}})

	pr, pw := io.Pipe()
	s := c.Start(context.Background(), &transport.ReaderSource{R: pr})
	pw.Write([]byte("Titre\nTexte"))
	c.Cancel()
	pw.Close()
	wait(t, s)

	if got := col.all(); len(got) != 0 {
		t.Errorf("expected no updates after cancel, got %v", got)
	}
	if c.Current() != nil {
		t.Error("expected no current session after cancel")
	}
}

type countingObserver struct {
	mu       sync.Mutex
	chunks   int
	flushes  int
	outcomes []Outcome
}

func (o *countingObserver) ChunkReceived(int) {
	o.mu.Lock()
	o.chunks++
	o.mu.Unlock()
}

func (o *countingObserver) Flushed(int, time.Duration) {
	o.mu.Lock()
	o.flushes++
	o.mu.Unlock()
}

func (o *countingObserver) Finished(outcome Outcome, _, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func TestController_Observer(t *testing.T) {
	obs := &countingObserver{}
	c := NewController(nil, Options{Observer: obs})

	wait(t, c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader(sampleStory)}))
	wait(t, c.Start(context.Background(), &transport.ReaderSource{R: strings.NewReader("")}))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.chunks == 0 || obs.flushes == 0 {
		t.Errorf("expected chunk and flush events, got %d chunks %d flushes", obs.chunks, obs.flushes)
	}
	want := []Outcome{OutcomeCompleted, OutcomeEmpty}
	if diff := cmp.Diff(want, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect(t *testing.T) {
	story, err := Collect(context.Background(), transport.NewStorySource(sampleStory), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(parser.Parse(sampleStory), story); diff != "" {
		t.Errorf("story mismatch (-want +got):\n%s", diff)
	}

	if _, err := Collect(context.Background(), transport.NewStorySource(" "), Options{}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}
