package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/storygest/internal/metrics"
	"github.com/dgallion1/storygest/internal/session"
	"github.com/dgallion1/storygest/internal/storytree"
	"github.com/dgallion1/storygest/internal/transport"
)

// Status represents the state of a viewer's latest session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Error kinds reported in snapshots.
const (
	ErrorKindTransport  = "transport"
	ErrorKindGeneration = "generation"
	ErrorKindEmpty      = "empty"
	ErrorKindTimeout    = "timeout"
)

// Viewer is one user's story view. It owns a session controller, so a new
// generation for the same user supersedes the one in progress.
type Viewer struct {
	startMu sync.Mutex // serializes start and stop
	mu      sync.Mutex

	UserID string

	ctrl    *session.Controller
	cancel  context.CancelFunc
	log     *slog.Logger
	timeout time.Duration

	sessionID   string
	status      Status
	story       *storytree.Story
	err         string
	errKind     string
	updates     int
	contentHash string

	startedAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
}

func newViewer(userID string, opts session.Options, timeout time.Duration, log *slog.Logger) *Viewer {
	v := &Viewer{
		UserID:    userID,
		status:    StatusIdle,
		timeout:   timeout,
		log:       log.With("user_id", userID),
		updatedAt: time.Now(),
	}
	opts.Logger = v.log
	v.ctrl = session.NewController(v.onUpdate, opts)
	return v
}

// start supersedes any session in progress with one reading src. It returns
// the new public session id.
func (v *Viewer) start(base context.Context, src transport.Source) string {
	v.startMu.Lock()
	defer v.startMu.Unlock()

	ctx, cancel := context.WithTimeout(base, v.timeout)

	// Silence the previous session before resetting state, so none of its
	// updates can land on the new one.
	v.ctrl.Cancel()

	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.cancel = cancel
	wasStreaming := v.status == StatusStreaming
	v.sessionID = uuid.NewString()
	v.status = StatusStreaming
	v.story = nil
	v.err, v.errKind = "", ""
	v.updates = 0
	v.contentHash = ""
	v.startedAt = time.Now()
	v.updatedAt = v.startedAt
	v.completedAt = time.Time{}
	id := v.sessionID
	v.mu.Unlock()

	if !wasStreaming {
		metrics.ActiveSessions.Inc()
	}

	s := v.ctrl.Start(ctx, src)
	go func() {
		<-s.Done()
		cancel()
	}()

	v.log.Info("story session started", "session_id", id)
	return id
}

// stop cancels the current session. It reports whether one was streaming.
func (v *Viewer) stop() bool {
	v.startMu.Lock()
	defer v.startMu.Unlock()

	v.ctrl.Cancel()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if v.status != StatusStreaming {
		return false
	}
	v.setStatusLocked(StatusCancelled)
	v.completedAt = v.updatedAt
	v.log.Info("story session cancelled", "session_id", v.sessionID)
	return true
}

// onUpdate runs under the controller's delivery lock, so only updates of the
// current session arrive here.
func (v *Viewer) onUpdate(u session.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case u.Err != nil:
		v.err = u.Err.Error()
		v.errKind = errorKind(u.Err)
		v.setStatusLocked(StatusFailed)
		v.completedAt = v.updatedAt
		v.log.Warn("story session failed", "session_id", v.sessionID, "kind", v.errKind, "error", u.Err)
	case u.Done:
		v.story = u.Story
		v.contentHash = storyHash(u.Story)
		v.setStatusLocked(StatusCompleted)
		v.completedAt = v.updatedAt
		v.log.Info("story session completed",
			"session_id", v.sessionID,
			"chapters", len(u.Story.Chapters),
			"words", u.Story.WordCount(),
		)
	default:
		v.story = u.Story
		v.updates++
		v.updatedAt = time.Now()
	}
}

func (v *Viewer) setStatusLocked(status Status) {
	if v.status == StatusStreaming && status != StatusStreaming {
		metrics.ActiveSessions.Dec()
	}
	v.status = status
	v.updatedAt = time.Now()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyContent):
		return ErrorKindEmpty
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case session.IsGeneration(err):
		return ErrorKindGeneration
	}
	return ErrorKindTransport
}

// idleSince reports when the viewer last changed, or zero while streaming.
func (v *Viewer) idleSince() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusStreaming {
		return time.Time{}, false
	}
	return v.updatedAt, true
}

// ViewerSnapshot is a read-only, JSON-safe copy of viewer state.
type ViewerSnapshot struct {
	UserID         string           `json:"user_id"`
	SessionID      string           `json:"session_id"`
	Status         Status           `json:"status"`
	Story          *storytree.Story `json:"story"`
	Error          string           `json:"error,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Updates        int              `json:"updates"`
	Words          int              `json:"words"`
	ReadingMinutes int              `json:"reading_minutes"`
	ContentHash    string           `json:"content_hash,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// Snapshot returns a JSON-safe copy of the viewer state. Stories are never
// mutated after parsing, so the story pointer is shared.
func (v *Viewer) Snapshot() ViewerSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := ViewerSnapshot{
		UserID:         v.UserID,
		SessionID:      v.sessionID,
		Status:         v.status,
		Story:          v.story,
		Error:          v.err,
		ErrorKind:      v.errKind,
		Updates:        v.updates,
		Words:          v.story.WordCount(),
		ReadingMinutes: v.story.ReadingMinutes(),
		ContentHash:    v.contentHash,
		StartedAt:      v.startedAt,
		UpdatedAt:      v.updatedAt,
	}
	if !v.completedAt.IsZero() {
		t := v.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// storyHash fingerprints the rendered structure of a finished story.
func storyHash(story *storytree.Story) string {
	h := sha256.New()
	if story != nil {
		fmt.Fprintf(h, "%s\n", story.Title)
		for _, ch := range story.Chapters {
			fmt.Fprintf(h, "\x00%s\n", ch.Heading)
			for _, p := range ch.Paragraphs {
				fmt.Fprintf(h, "\x01%s\n", p)
			}
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
