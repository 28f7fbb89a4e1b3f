// Package overlay is the page-side consumer of the streaming protocol: a
// display state machine driven purely by inbound messages, plus the client
// that owns the live connection to the coordinator.
package overlay

import (
	"sync"

	"github.com/user/ghostd/internal/protocol"
)

// Stage is what the overlay is currently showing. Exactly one stage's view
// renders at a time.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageInvestigating Stage = "investigating"
	StageSynthesis     Stage = "synthesis"
	StageError         Stage = "error"
)

// DisplayState is a point-in-time snapshot of the overlay.
type DisplayState struct {
	Stage          Stage
	Sources        []protocol.SourceUpdate
	VerdictText    string
	StreamComplete bool
	ErrorMessage   string
}

// Controller applies inbound messages to display state. Sources are keyed by
// URL and updated in place, preserving first-seen order; verdict text only
// grows. All mutation happens through Apply — nothing else owns this state.
type Controller struct {
	mu    sync.Mutex
	state DisplayState
	index map[string]int
}

func NewController() *Controller {
	return &Controller{
		state: DisplayState{Stage: StageIdle},
		index: make(map[string]int),
	}
}

// Apply runs one message through the transition table. Unrecognized tags and
// tags the overlay never consumes are ignored.
func (c *Controller) Apply(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeCheckAccepted:
		// A new session begins: reset, including any prior error.
		c.state = DisplayState{Stage: StageInvestigating}
		c.index = make(map[string]int)
	case protocol.TypeSourceUpdate:
		if msg.Payload == nil {
			return
		}
		c.upsert(*msg.Payload)
	case protocol.TypeStreamStart:
		c.state.Stage = StageSynthesis
	case protocol.TypeStreamChunk:
		c.state.VerdictText += msg.Chunk
	case protocol.TypeStreamEnd:
		c.state.StreamComplete = true
	case protocol.TypeError:
		c.state.Stage = StageError
		c.state.ErrorMessage = msg.Error
	}
}

func (c *Controller) upsert(payload protocol.SourceUpdate) {
	if i, ok := c.index[payload.URL]; ok {
		c.state.Sources[i] = payload
		return
	}
	c.index[payload.URL] = len(c.state.Sources)
	c.state.Sources = append(c.state.Sources, payload)
}

// ConnectionLost records an unexpected disconnect. It is a no-op when the
// stream already finished or an error is already showing.
func (c *Controller) ConnectionLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.StreamComplete || c.state.Stage == StageError {
		return
	}
	c.state.Stage = StageError
	c.state.ErrorMessage = "Connection to the coordinator was lost."
}

// Snapshot returns a copy of the current display state.
func (c *Controller) Snapshot() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	out.Sources = make([]protocol.SourceUpdate, len(c.state.Sources))
	copy(out.Sources, c.state.Sources)
	return out
}
