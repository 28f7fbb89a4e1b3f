// Package httpapi is the coordinator's HTTP surface: the websocket endpoint
// page contexts attach to, the shortcut-trigger endpoint, and a small debug
// API over the session journal and settings.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ghostd/internal/protocol"
	"github.com/user/ghostd/internal/relay"
	"github.com/user/ghostd/internal/settings"
	"github.com/user/ghostd/internal/state"
)

const pongWait = 60 * time.Second

// Gateway is the relay entrypoint the server feeds.
type Gateway interface {
	HandleTrigger()
	HandleCheck(target protocol.TargetID, text string)
}

// Server routes the coordinator's HTTP endpoints.
type Server struct {
	registry *relay.Registry
	gateway  Gateway
	journal  *state.Journal
	settings *settings.Store
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewServer wires the HTTP surface to the registry, gateway, journal, and
// settings store.
func NewServer(registry *relay.Registry, gateway Gateway, journal *state.Journal, settingsStore *settings.Store) *Server {
	s := &Server{
		registry: registry,
		gateway:  gateway,
		journal:  journal,
		settings: settingsStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Page contexts connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("POST /trigger", s.handleTrigger)
	s.mux.HandleFunc("GET /api/targets", s.handleTargets)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS attaches a page context. The registry owns writes from here on;
// this loop owns reads and forwards check requests to the gateway.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := s.registry.Attach(conn)
	defer s.registry.Detach(id)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("malformed message from target", "target", id, "error", err)
			continue
		}
		if !msg.Recognized() {
			continue
		}
		if msg.Type == protocol.TypeTriggerCheck {
			s.gateway.HandleCheck(id, msg.Text)
		}
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.gateway.HandleTrigger()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.registry.Targets()
	out := make([]string, len(targets))
	for i, id := range targets {
		out[i] = string(id)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.journal.List()
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := protocol.SessionID(r.PathValue("id"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.journal.Messages(id, limit)
	if err != nil {
		slog.Error("read session journal failed", "session", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*state.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var update settings.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	updated, err := s.settings.Set(update)
	if err != nil {
		slog.Error("update settings failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}
