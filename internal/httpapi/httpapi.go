// Package httpapi implements the Transport Server (SPEC_FULL.md §4.7):
// the REST surface and WebSocket attach channel of spec.md §6, served
// from a single net/http ServeMux. Grounded in the teacher's
// internal/tunnel read/write-loop and WriteJSON/ReadMessage shape.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/trybotster/tabminal/internal/registry"
	"github.com/trybotster/tabminal/internal/session"
)

// SystemInfo is the opaque system-resource snapshot named in spec.md
// §6's heartbeat contract ("system: <opaque>"). The resource monitor
// itself is an external collaborator (spec.md §1 Out of scope); the
// core only needs a place to hang whatever the caller supplies.
type SystemInfo func() any

// Server serves the session REST/WS surface against one Registry.
type Server struct {
	registry   *registry.Registry
	logger     *slog.Logger
	systemInfo SystemInfo
	upgrader   websocket.Upgrader
}

// New returns a Server. systemInfo may be nil, in which case the
// heartbeat's "system" field is always null.
func New(reg *registry.Registry, logger *slog.Logger, systemInfo SystemInfo) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:   reg,
		logger:     logger,
		systemInfo: systemInfo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the routed mux for spec.md §6's four endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /ws/{id}", s.handleAttach)
	return mux
}

type heartbeatResponse struct {
	Sessions any `json:"sessions"`
	System   any `json:"system"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var system any
	if s.systemInfo != nil {
		system = s.systemInfo()
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Sessions: s.registry.List(), System: system})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Create()
	if err != nil {
		s.logger.Error("session create failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Summary())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.registry.Get(id)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	clientID, detach := sess.Attach(client)
	defer detach()
	defer conn.Close()

	for {
		var msg session.InMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		sess.HandleClientMessage(clientID, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
