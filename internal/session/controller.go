package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgallion1/storygest/internal/accumulator"
	"github.com/dgallion1/storygest/internal/decoder"
	"github.com/dgallion1/storygest/internal/parser"
	"github.com/dgallion1/storygest/internal/storytree"
	"github.com/dgallion1/storygest/internal/transport"
)

const (
	defaultChunkSize = 4096
	errorBodyPreview = 300
)

// Update is one notification to the consumer. Story is nil until the first
// flush with content; Err != nil is a terminal failure; Done marks success.
type Update struct {
	Session uint64
	Story   *storytree.Story
	Done    bool
	Err     error
}

// Listener receives updates of the current session, serialized. It must not
// call Start or Cancel on the same Controller synchronously.
type Listener func(Update)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeEmpty      Outcome = "empty"
	OutcomeSuperseded Outcome = "superseded"
)

// Observer receives instrumentation events from every session, current or
// not. Implementations must be safe for concurrent use.
type Observer interface {
	ChunkReceived(bytes int)
	Flushed(snapshotBytes int, parse time.Duration)
	Finished(outcome Outcome, firstByte, total time.Duration)
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	FlushDelay time.Duration
	Clock      accumulator.Clock
	ChunkSize  int
	MaxBytes   int64
	Observer   Observer
	Logger     *slog.Logger
}

// ErrTooLarge is wrapped in a TransportError when a response exceeds MaxBytes.
var ErrTooLarge = errors.New("story exceeds size limit")

// Controller owns at most one current session. Starting a session supersedes
// the previous one; superseded or cancelled sessions never notify.
type Controller struct {
	mu       sync.Mutex // guards current and serializes Listener calls
	gen      atomic.Uint64
	current  *Session
	listener Listener
	opts     Options
	log      *slog.Logger
}

// NewController returns a Controller that reports to listener.
func NewController(listener Listener, opts Options) *Controller {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if listener == nil {
		listener = func(Update) {}
	}
	return &Controller{listener: listener, opts: opts, log: log}
}

// Start opens src on a new session and returns it. The previous session, if
// any, is cancelled and silenced before Start returns.
func (c *Controller) Start(ctx context.Context, src transport.Source) *Session {
	c.mu.Lock()
	if c.current != nil {
		c.current.stop()
	}
	id := c.gen.Add(1)
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      id,
		c:       c,
		ctx:     sctx,
		cancel:  cancel,
		dec:     decoder.New(),
		done:    make(chan struct{}),
		started: time.Now(),
		log:     c.log.With("session", id),
	}
	s.acc = accumulator.New(c.opts.FlushDelay, c.opts.Clock, s.onFlush)
	c.current = s
	c.mu.Unlock()

	s.log.Debug("session started")
	go s.run(src)
	return s
}

// Cancel silences and stops the current session, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.stop()
	c.current = nil
	c.gen.Add(1)
}

// Current returns the current session or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// deliver forwards u to the listener if id is still the current generation.
func (c *Controller) deliver(id uint64, u Update) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != id {
		return false
	}
	u.Session = id
	c.listener(u)
	if u.Done || u.Err != nil {
		c.current = nil
	}
	return true
}

// Session is one generation attempt.
type Session struct {
	id     uint64
	c      *Controller
	ctx    context.Context
	cancel context.CancelFunc
	acc    *accumulator.Accumulator
	dec    *decoder.Decoder
	done   chan struct{}
	log    *slog.Logger

	started   time.Time
	firstByte atomic.Int64 // nanoseconds since started, 0 until the first byte
	received  atomic.Int64
}

func (s *Session) ID() uint64 { return s.id }

// Done is closed when the session's goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Text returns the committed text so far.
func (s *Session) Text() string { return s.acc.Text() }

// Flushes returns the number of flushes committed.
func (s *Session) Flushes() int { return s.acc.Flushes() }

// Received returns the number of bytes read from the source.
func (s *Session) Received() int64 { return s.received.Load() }

func (s *Session) alive() bool {
	return s.c.gen.Load() == s.id
}

// stop is called with the controller lock held.
func (s *Session) stop() {
	s.cancel()
	s.acc.Stop()
}

func (s *Session) onFlush(snapshot string) {
	if !s.alive() {
		return
	}
	start := time.Now()
	story := parser.Parse(snapshot)
	if obs := s.c.opts.Observer; obs != nil {
		obs.Flushed(len(snapshot), time.Since(start))
	}
	s.c.deliver(s.id, Update{Story: story})
}

func (s *Session) run(src transport.Source) {
	defer close(s.done)
	defer s.cancel()

	outcome, err := s.consume(src)
	if err != nil && !s.alive() {
		outcome = OutcomeSuperseded
	}
	if outcome == "" {
		outcome = s.complete()
	} else if err != nil {
		s.log.Info("session failed", "error", err)
		s.c.deliver(s.id, Update{Err: err})
	}

	if obs := s.c.opts.Observer; obs != nil {
		obs.Finished(outcome, time.Duration(s.firstByte.Load()), time.Since(s.started))
	}
	s.log.Debug("session finished", "outcome", outcome, "bytes", s.received.Load())
}

// consume reads src to the end. A zero outcome with a nil error means the
// text is complete and ready for the terminal flush.
func (s *Session) consume(src transport.Source) (Outcome, error) {
	resp, err := src.Open(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return OutcomeFailed, s.ctx.Err()
		}
		return OutcomeFailed, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.Kind() {
	case transport.KindStream:
		err = s.stream(resp)
	case transport.KindPayload:
		err = s.payload(resp)
	default:
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPreview))
		err = &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected content type %q: %s", resp.ContentType, preview),
		}
	}
	if err != nil {
		return OutcomeFailed, err
	}
	return "", nil
}

func (s *Session) stream(resp *transport.Response) error {
	buf := make([]byte, s.c.opts.ChunkSize)
	for {
		if !s.alive() {
			return context.Canceled
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if ierr := s.ingest(buf[:n]); ierr != nil {
				return &TransportError{StatusCode: resp.StatusCode, Err: ierr}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read stream: %w", err)}
		}
	}
	s.acc.Push(s.dec.Finish())
	return nil
}

func (s *Session) payload(resp *transport.Response) error {
	body := io.Reader(resp.Body)
	if s.c.opts.MaxBytes > 0 {
		body = io.LimitReader(body, s.c.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read payload: %w", err)}
	}
	if limit := s.c.opts.MaxBytes; limit > 0 && int64(len(data)) > limit {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)}
	}

	var p transport.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode payload: %w", err)}
	}
	if p.Story == nil {
		msg := DefaultGenerationError
		if p.Error != nil && *p.Error != "" {
			msg = *p.Error
		}
		return &GenerationError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := s.ingest([]byte(*p.Story)); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	s.acc.Push(s.dec.Finish())
	return nil
}

func (s *Session) ingest(chunk []byte) error {
	total := s.received.Add(int64(len(chunk)))
	s.firstByte.CompareAndSwap(0, int64(max(time.Since(s.started), 1)))
	if obs := s.c.opts.Observer; obs != nil {
		obs.ChunkReceived(len(chunk))
	}
	if limit := s.c.opts.MaxBytes; limit > 0 && total > limit {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	s.acc.Push(s.dec.Decode(chunk))
	return nil
}

// complete runs the terminal flush and reports the result.
func (s *Session) complete() Outcome {
	final := s.acc.Finish()
	if !s.alive() {
		return OutcomeSuperseded
	}
	if strings.TrimSpace(final) == "" {
		s.c.deliver(s.id, Update{Err: ErrEmptyContent})
		return OutcomeEmpty
	}
	if !s.c.deliver(s.id, Update{Story: parser.Parse(final), Done: true}) {
		return OutcomeSuperseded
	}
	return OutcomeCompleted
}

// ErrNoResult is returned by Collect when the session ended without a
// terminal update, e.g. because it was cancelled.
var ErrNoResult = errors.New("session ended without a result")

// Collect runs src on a private controller and returns the terminal story.
func Collect(ctx context.Context, src transport.Source, opts Options) (*storytree.Story, error) {
	var final Update
	c := NewController(func(u Update) {
		if u.Done || u.Err != nil {
			final = u
		}
	}, opts)

	s := c.Start(ctx, src)
	if err := s.Wait(ctx); err != nil {
		c.Cancel()
		return nil, err
	}
	if final.Err != nil {
		return nil, final.Err
	}
	if !final.Done {
		return nil, ErrNoResult
	}
	return final.Story, nil
}
