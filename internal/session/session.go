// Package session runs one fact-check from trigger to terminal state.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/ghostd/internal/factcheck"
	"github.com/user/ghostd/internal/protocol"
)

// Phase is the lifecycle state of a Session.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseConfirming    Phase = "confirming"
	PhaseInvestigating Phase = "investigating"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
	PhaseAborted       Phase = "aborted"
)

// Terminal reports whether a session in this phase will emit nothing more.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseAborted
}

// Messenger delivers messages to a page context. Send reports delivery
// without ever raising; IsTargetValid is the liveness probe used at every
// cancellation point.
type Messenger interface {
	Send(target protocol.TargetID, msg protocol.Message) bool
	IsTargetValid(target protocol.TargetID) bool
}

// Checker calls the external fact-check service.
type Checker interface {
	Check(ctx context.Context, claim string) (*factcheck.Result, error)
}

// Recorder journals emitted messages and phase changes. Implementations must
// tolerate being called from a single session goroutine only.
type Recorder interface {
	Append(id protocol.SessionID, msg protocol.Message) error
	SetPhase(id protocol.SessionID, phase string) error
}

// Timings controls the presentation pacing of a session. The stagger spreads
// source resolution out so evidence appears incrementally; it carries no
// protocol meaning beyond preserving the service's source order.
type Timings struct {
	// AnalyzeStagger separates consecutive analyzing emissions.
	AnalyzeStagger time.Duration
	// ResolveDelay is how long after its analyzing emission a source's
	// terminal update fires.
	ResolveDelay time.Duration
	// SynthesisDelay runs from the last analyzing emission to STREAM_START.
	// It must exceed ResolveDelay so every terminal update lands first.
	SynthesisDelay time.Duration
	// StreamInterval paces verdict chunks.
	StreamInterval time.Duration
}

// DefaultTimings mirrors the pacing users see in the overlay.
func DefaultTimings() Timings {
	return Timings{
		AnalyzeStagger: 1 * time.Second,
		ResolveDelay:   1500 * time.Millisecond,
		SynthesisDelay: 3 * time.Second,
		StreamInterval: 30 * time.Millisecond,
	}
}

// Session is one in-flight fact-check, bound to a single target and claim.
// It is owned by the gateway for its lifetime and never resumes or retries
// after reaching a terminal phase.
type Session struct {
	ID     protocol.SessionID
	Target protocol.TargetID
	Claim  string

	messenger Messenger
	checker   Checker
	recorder  Recorder
	timings   Timings

	mu    sync.Mutex
	phase Phase
}

// Option configures optional behavior on a Session.
type Option func(*Session)

// WithTimings overrides the default pacing.
func WithTimings(t Timings) Option {
	return func(s *Session) { s.timings = t }
}

// WithRecorder journals the session's emissions.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// New creates a Session in the Idle phase.
func New(target protocol.TargetID, claim string, messenger Messenger, checker Checker, opts ...Option) *Session {
	s := &Session{
		ID:        protocol.NewSessionID(),
		Target:    target,
		Claim:     claim,
		messenger: messenger,
		checker:   checker,
		timings:   DefaultTimings(),
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	if s.recorder != nil {
		if err := s.recorder.SetPhase(s.ID, string(p)); err != nil {
			slog.Warn("record phase failed", "session", s.ID, "error", err)
		}
	}
}

// emit journals and delivers one message. Delivery failure is already
// classified and absorbed by the messenger; emit only reports it.
func (s *Session) emit(msg protocol.Message) bool {
	if s.recorder != nil {
		if err := s.recorder.Append(s.ID, msg); err != nil {
			slog.Warn("journal append failed", "session", s.ID, "error", err)
		}
	}
	return s.messenger.Send(s.Target, msg)
}

// step is one scheduled emission on the investigation timeline.
type step struct {
	offset   time.Duration
	terminal bool
	source   factcheck.Source
}

// Run drives the session to a terminal phase. It blocks; the gateway runs it
// on its own goroutine. Every timed wait selects on ctx so supersession and
// shutdown cancel at any suspension point, and every visible emission after
// a delay is preceded by a target liveness check — that is the whole
// cancellation model: there is no other way to stop a session.
func (s *Session) Run(ctx context.Context) {
	s.setPhase(PhaseConfirming)

	// Informational; a lost confirmation does not abort the session.
	if !s.emit(protocol.CheckAccepted()) {
		slog.Debug("confirmation not delivered", "session", s.ID, "target", s.Target)
	}

	result, err := s.checker.Check(ctx, s.Claim)
	if err != nil {
		// A superseded session aborts silently; its ERROR would land on
		// top of the replacing session's output.
		if ctx.Err() != nil {
			s.setPhase(PhaseAborted)
			return
		}
		slog.Warn("fact check failed", "session", s.ID, "error", err)
		s.emit(protocol.NewError("Fact check failed: " + err.Error()))
		s.setPhase(PhaseFailed)
		return
	}

	s.setPhase(PhaseInvestigating)
	start := time.Now()

	for _, st := range s.schedule(result.Sources) {
		if !s.sleepUntil(ctx, start.Add(st.offset)) {
			s.setPhase(PhaseAborted)
			return
		}
		if st.terminal {
			// Skip silently when the tab went away; the clock keeps
			// running so later sources stay on schedule.
			if !s.messenger.IsTargetValid(s.Target) {
				continue
			}
			s.emit(protocol.NewSourceUpdate(protocol.SourceUpdate{
				URL:     st.source.URL,
				Domain:  st.source.Domain,
				Status:  st.source.Status,
				Verdict: st.source.Verdict,
				Quote:   st.source.Quote,
			}))
		} else {
			s.emit(protocol.NewSourceUpdate(protocol.SourceUpdate{
				URL:    st.source.URL,
				Domain: st.source.Domain,
				Status: protocol.StatusAnalyzing,
			}))
		}
	}

	synthesisAt := start.Add(s.lastStagger(len(result.Sources)) + s.timings.SynthesisDelay)
	if !s.sleepUntil(ctx, synthesisAt) || !s.messenger.IsTargetValid(s.Target) {
		s.setPhase(PhaseAborted)
		return
	}

	s.setPhase(PhaseSynthesizing)
	s.emit(protocol.StreamStart())

	for _, r := range result.Verdict {
		if !s.messenger.IsTargetValid(s.Target) {
			s.setPhase(PhaseAborted)
			return
		}
		s.emit(protocol.StreamChunk(string(r)))
		if !s.sleep(ctx, s.timings.StreamInterval) {
			s.setPhase(PhaseAborted)
			return
		}
	}

	s.emit(protocol.StreamEnd())
	s.setPhase(PhaseCompleted)
}

// schedule lays the sources out on the stagger timeline: analyzing at
// index*stagger, terminal at index*stagger+resolve. The sort is stable and
// analyzing steps carry the earlier offset, so emission order preserves the
// service's source order and each terminal strictly follows its own
// analyzing update.
func (s *Session) schedule(sources []factcheck.Source) []step {
	steps := make([]step, 0, 2*len(sources))
	for i, src := range sources {
		at := time.Duration(i) * s.timings.AnalyzeStagger
		steps = append(steps,
			step{offset: at, source: src},
			step{offset: at + s.timings.ResolveDelay, terminal: true, source: src},
		)
	}
	sort.SliceStable(steps, func(a, b int) bool {
		return steps[a].offset < steps[b].offset
	})
	return steps
}

// lastStagger is the offset of the final analyzing emission.
func (s *Session) lastStagger(n int) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(n-1) * s.timings.AnalyzeStagger
}

// sleepUntil waits for a deadline, returning false if ctx is cancelled first.
func (s *Session) sleepUntil(ctx context.Context, deadline time.Time) bool {
	return s.sleep(ctx, time.Until(deadline))
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
