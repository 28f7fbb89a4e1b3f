// Package gateway is the coordinator's relay entrypoint: it turns inbound
// check requests into verification sessions and routes shortcut triggers to
// the focused page context.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/user/ghostd/internal/protocol"
	"github.com/user/ghostd/internal/session"
	"github.com/user/ghostd/internal/settings"
	"github.com/user/ghostd/internal/state"
)

// Messenger is the gateway's view of the target registry.
type Messenger interface {
	session.Messenger
	Focused() (protocol.TargetID, bool)
}

// SettingsSource exposes the current user settings.
type SettingsSource interface {
	Get() settings.Settings
}

// running pairs an active session with its cancellation handle.
type running struct {
	sess   *session.Session
	cancel context.CancelFunc
}

// Gateway owns all in-flight verification sessions. At most one session is
// active per target: a new request supersedes the previous one rather than
// running alongside it.
type Gateway struct {
	messenger Messenger
	checker   session.Checker
	journal   *state.Journal
	settings  SettingsSource

	sem      *semaphore.Weighted
	timings  session.Timings
	perCheck rate.Limit
	burst    int

	mu       sync.Mutex
	active   map[protocol.TargetID]*running
	limiters map[protocol.TargetID]*rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithTimings overrides session pacing, mainly for tests.
func WithTimings(t session.Timings) Option {
	return func(g *Gateway) { g.timings = t }
}

// WithRateLimit overrides the per-target trigger limit.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(g *Gateway) {
		g.perCheck = limit
		g.burst = burst
	}
}

// New creates a Gateway. maxConcurrent bounds how many sessions run at once
// across all targets.
func New(messenger Messenger, checker session.Checker, journal *state.Journal, settingsSource SettingsSource, maxConcurrent int64, opts ...Option) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	g := &Gateway{
		messenger: messenger,
		checker:   checker,
		journal:   journal,
		settings:  settingsSource,
		sem:       semaphore.NewWeighted(maxConcurrent),
		timings:   session.DefaultTimings(),
		perCheck:  rate.Every(2 * time.Second),
		burst:     3,
		active:    make(map[protocol.TargetID]*running),
		limiters:  make(map[protocol.TargetID]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start initialises the gateway's context. Must be called before handling.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
}

// Stop cancels every active session and waits for them to wind down.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

// HandleTrigger services the keyboard-shortcut path: ask the focused page
// context to inspect its selection. With no page attached it is a no-op.
func (g *Gateway) HandleTrigger() {
	target, ok := g.messenger.Focused()
	if !ok {
		slog.Debug("shortcut trigger with no attached page context")
		return
	}
	g.messenger.Send(target, protocol.TriggerCheckRequest())
}

// HandleCheck services a TRIGGER_CHECK from a page context: it creates
// exactly one new session bound to the sender. Requests are dropped — never
// surfaced as errors — when the sender is unidentifiable, checking is
// disabled, the claim is empty, or the target is re-triggering too fast.
func (g *Gateway) HandleCheck(target protocol.TargetID, text string) {
	if target == "" {
		slog.Warn("check request without sender identity, dropping")
		return
	}
	if !g.settings.Get().Enabled {
		slog.Debug("check request while disabled, dropping", "target", target)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if !g.limiter(target).Allow() {
		slog.Warn("check request rate limited", "target", target)
		return
	}

	sctx, cancel := context.WithCancel(g.ctx)
	sess := session.New(target, text, g.messenger, g.checker,
		session.WithTimings(g.timings),
		session.WithRecorder(g.journal),
	)

	if err := g.journal.Create(&state.SessionRecord{
		ID:     sess.ID,
		Target: target,
		Claim:  text,
		Phase:  string(session.PhaseIdle),
	}); err != nil {
		slog.Warn("journal session failed", "session", sess.ID, "error", err)
	}

	g.mu.Lock()
	if old, ok := g.active[target]; ok {
		slog.Info("superseding active session", "target", target, "old_session", old.sess.ID)
		old.cancel()
	}
	entry := &running{sess: sess, cancel: cancel}
	g.active[target] = entry
	g.mu.Unlock()

	slog.Info("session started", "session", sess.ID, "target", target)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()
		if err := g.sem.Acquire(sctx, 1); err != nil {
			slog.Debug("session cancelled before start", "session", sess.ID)
		} else {
			sess.Run(sctx)
			g.sem.Release(1)
		}
		slog.Info("session finished", "session", sess.ID, "phase", sess.Phase())

		g.mu.Lock()
		if g.active[target] == entry {
			delete(g.active, target)
		}
		g.mu.Unlock()
	}()
}

// ActiveSession returns the running session for a target, if any.
func (g *Gateway) ActiveSession(target protocol.TargetID) (*session.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.active[target]
	if !ok {
		return nil, false
	}
	return entry.sess, true
}

func (g *Gateway) limiter(target protocol.TargetID) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[target]; ok {
		return l
	}
	l := rate.NewLimiter(g.perCheck, g.burst)
	g.limiters[target] = l
	return l
}
