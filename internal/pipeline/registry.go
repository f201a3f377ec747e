package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/storygest/internal/accumulator"
	"github.com/dgallion1/storygest/internal/config"
	"github.com/dgallion1/storygest/internal/generate"
	"github.com/dgallion1/storygest/internal/metrics"
	"github.com/dgallion1/storygest/internal/session"
	"github.com/dgallion1/storygest/internal/transport"
)

// SourceFactory builds the upstream source for a validated request.
type SourceFactory func(req generate.Request) transport.Source

// UpstreamSources returns a SourceFactory posting requests to the configured
// upstream endpoint over one shared client.
func UpstreamSources(cfg config.Config) SourceFactory {
	client := transport.NewHTTPClient()
	return func(req generate.Request) transport.Source {
		return &transport.HTTPSource{
			URL:     cfg.UpstreamURL,
			APIKey:  cfg.UpstreamAPIKey,
			Request: req,
			Client:  client,
		}
	}
}

// Registry is a thread-safe set of per-user viewers with TTL eviction.
type Registry struct {
	mu      sync.Mutex
	viewers map[string]*Viewer

	ttl     time.Duration
	timeout time.Duration
	opts    session.Options
	sources SourceFactory
	stats   *metrics.Recorder
	log     *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RegistryOption adjusts a Registry before use.
type RegistryOption func(*Registry)

// WithClock replaces the debounce clock of every session.
func WithClock(c accumulator.Clock) RegistryOption {
	return func(r *Registry) { r.opts.Clock = c }
}

func NewRegistry(cfg config.Config, sources SourceFactory, stats *metrics.Recorder, log *slog.Logger, opts ...RegistryOption) *Registry {
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		viewers: make(map[string]*Viewer),
		ttl:     cfg.SessionTTL,
		timeout: cfg.UpstreamTimeout,
		opts: session.Options{
			FlushDelay: cfg.FlushInterval,
			MaxBytes:   cfg.MaxStoryBytes,
		},
		sources: sources,
		stats:   stats,
		log:     log,
		base:    base,
		cancel:  cancel,
	}
	if stats != nil {
		r.opts.Observer = stats
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Minute
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the cleanup loop.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.base.Done():
				return
			case <-ticker.C:
				if n := r.Cleanup(); n > 0 {
					r.log.Debug("evicted idle viewers", "count", n)
				}
			}
		}
	}()
}

// Stop cancels every session and waits for the cleanup loop.
func (r *Registry) Stop() {
	r.cancel()

	r.mu.Lock()
	viewers := make([]*Viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		viewers = append(viewers, v)
	}
	r.mu.Unlock()

	for _, v := range viewers {
		v.stop()
	}
	r.wg.Wait()
}

// Generate validates req and starts a session for userID against the
// upstream, superseding any session that user has in progress.
func (r *Registry) Generate(userID string, req generate.Request) (ViewerSnapshot, error) {
	if r.sources == nil {
		return ViewerSnapshot{}, fmt.Errorf("no upstream configured")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return ViewerSnapshot{}, err
	}
	return r.StartSource(userID, r.sources(req)), nil
}

// StartSource starts a session for userID reading src.
func (r *Registry) StartSource(userID string, src transport.Source) ViewerSnapshot {
	v := r.viewer(userID)
	v.start(r.base, src)
	return v.Snapshot()
}

func (r *Registry) viewer(userID string) *Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[userID]
	if !ok {
		v = newViewer(userID, r.opts, r.timeout, r.log)
		r.viewers[userID] = v
	}
	return v
}

// Get returns the viewer for userID, or nil.
func (r *Registry) Get(userID string) *Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewers[userID]
}

// Cancel stops userID's session. It reports whether one was streaming.
func (r *Registry) Cancel(userID string) bool {
	v := r.Get(userID)
	if v == nil {
		return false
	}
	return v.stop()
}

// Cleanup removes viewers idle for longer than the TTL and returns how many
// were removed. Streaming viewers are never evicted.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, v := range r.viewers {
		since, idle := v.idleSince()
		if idle && now.Sub(since) > r.ttl {
			delete(r.viewers, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked viewers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Stats returns rolling generation latency statistics.
func (r *Registry) Stats() metrics.GenerationStats {
	if r.stats == nil {
		return metrics.GenerationStats{}
	}
	return r.stats.Snapshot()
}
