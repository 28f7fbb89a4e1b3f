// Package relay tracks attached page contexts and delivers coordinator
// messages to them without ever letting a bad delivery escape.
package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ghostd/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pingEvery      = 30 * time.Second
	outboundBuffer = 64
)

// target is one attached page context: a websocket connection plus the
// buffered outbound channel its writer goroutine drains.
type target struct {
	id   protocol.TargetID
	conn *websocket.Conn
	out  chan protocol.Message
	done chan struct{}
	once sync.Once
}

func (t *target) stop() {
	t.once.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}

// writePump serializes all writes to the connection. Pings keep proxies from
// reaping an idle stream between sessions. A failed write marks the target
// dead via onDead.
func (t *target) writePump(onDead func()) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-t.out:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteJSON(msg); err != nil {
				slog.Debug("target write failed", "target", t.id, "error", err)
				onDead()
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				onDead()
				return
			}
		case <-t.done:
			return
		}
	}
}

// Registry is the coordinator's view of live page contexts. The most
// recently attached target is treated as the focused one for shortcut
// triggers.
type Registry struct {
	mu      sync.RWMutex
	targets map[protocol.TargetID]*target
	order   []protocol.TargetID
}

func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[protocol.TargetID]*target),
	}
}

// Attach registers a connection and starts its writer. The caller keeps
// ownership of reads; the registry owns all writes from this point on.
func (r *Registry) Attach(conn *websocket.Conn) protocol.TargetID {
	t := &target{
		id:   protocol.NewTargetID(),
		conn: conn,
		out:  make(chan protocol.Message, outboundBuffer),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.targets[t.id] = t
	r.order = append(r.order, t.id)
	r.mu.Unlock()

	go t.writePump(func() { r.Detach(t.id) })
	slog.Info("target attached", "target", t.id)
	return t.id
}

// Detach removes a target and closes its connection. Safe to call more than
// once; later sends to this target report target-gone.
func (r *Registry) Detach(id protocol.TargetID) {
	r.mu.Lock()
	t, ok := r.targets[id]
	if ok {
		delete(r.targets, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		t.stop()
		slog.Info("target detached", "target", id)
	}
}

// Send attempts delivery to one target. It returns false without error both
// when the target no longer exists (tab closed, navigated away) and when the
// transport rejects the message; the latter is logged and detaches the
// target, since a wedged outbound buffer means the page stopped reading.
// Send never panics and never propagates a delivery failure to the caller.
func (r *Registry) Send(id protocol.TargetID, msg protocol.Message) bool {
	r.mu.RLock()
	t, ok := r.targets[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case t.out <- msg:
		return true
	case <-t.done:
		return false
	default:
		slog.Warn("target outbound buffer full, detaching", "target", id, "type", msg.Type)
		r.Detach(id)
		return false
	}
}

// IsTargetValid is a best-effort liveness probe, used as a cancellation
// point before visible side effects.
func (r *Registry) IsTargetValid(id protocol.TargetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[id]
	return ok
}

// Focused returns the target a shortcut trigger should address: the most
// recently attached live page context.
func (r *Registry) Focused() (protocol.TargetID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[len(r.order)-1], true
}

// Targets returns the IDs of all live page contexts, oldest first.
func (r *Registry) Targets() []protocol.TargetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.TargetID, len(r.order))
	copy(out, r.order)
	return out
}

// Close detaches every target. Used during daemon shutdown.
func (r *Registry) Close() {
	for _, id := range r.Targets() {
		r.Detach(id)
	}
}
