// Package sshattach provides an optional raw SSH attach surface for
// tabminald, grounded on the teacher's internal/sshserver. Unlike the
// WS/REST transport in httpapi, this channel carries raw terminal
// bytes with no JSON framing — closer to a plain `ssh` session — and
// performs no authentication. It is disabled by default; spec.md names
// multi-user isolation and auth as explicit non-goals, so this surface
// exists purely as a convenience for operators who already trust their
// network.
package sshattach

import (
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gliderlabs/ssh"
	"github.com/trybotster/tabminal/internal/session"
)

// Registry is the subset of registry.Registry this server needs.
type Registry interface {
	Get(id string) *session.Session
	List() []session.Summary
}

// Server is a raw SSH attach surface over one Registry. Connecting
// with user "session-<id>" attaches to that session's PTY; connecting
// with any other user lists the available session ids.
type Server struct {
	listener net.Listener
	registry Registry
	logger   *slog.Logger
}

// New returns a Server bound to listener.
func New(listener net.Listener, registry Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listener: listener, registry: registry, logger: logger}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	server := &ssh.Server{
		Handler: s.handleSession,
		PtyCallback: func(ctx ssh.Context, pty ssh.Pty) bool {
			return true
		},
		SubsystemHandlers: map[string]ssh.SubsystemHandler{
			"sftp": nil,
		},
	}
	return server.Serve(s.listener)
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

const userPrefix = "session-"

func (s *Server) handleSession(sshSess ssh.Session) {
	user := sshSess.User()
	s.logger.Info("ssh session started", "user", user)
	defer s.logger.Info("ssh session ended", "user", user)

	id := ""
	if len(user) > len(userPrefix) && user[:len(userPrefix)] == userPrefix {
		id = user[len(userPrefix):]
	}

	if id == "" {
		s.listSessions(sshSess)
		return
	}

	sess := s.registry.Get(id)
	if sess == nil {
		io.WriteString(sshSess, "unknown session: "+id+"\n")
		sshSess.Exit(1)
		return
	}

	client := &rawClient{sshSess: sshSess}
	clientID, detach := sess.Attach(client)
	defer detach()

	_, winCh, isPty := sshSess.Pty()
	if isPty {
		go func() {
			for win := range winCh {
				sess.HandleClientMessage(clientID, session.InMessage{Type: "resize", Cols: win.Width, Rows: win.Height})
			}
		}()
	}

	buf := make([]byte, 4096)
	for {
		n, err := sshSess.Read(buf)
		if n > 0 {
			sess.HandleClientMessage(clientID, session.InMessage{Type: "input", Data: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) listSessions(sshSess ssh.Session) {
	list := s.registry.List()
	if len(list) == 0 {
		io.WriteString(sshSess, "no active sessions\n")
		sshSess.Exit(0)
		return
	}
	io.WriteString(sshSess, "available sessions:\n")
	for _, sum := range list {
		io.WriteString(sshSess, "  ssh "+userPrefix+sum.ID+"@<host>\n")
	}
	sshSess.Exit(0)
}

// rawClient adapts an ssh.Session to session.ClientHandle, writing
// only the raw terminal bytes from snapshot/output frames; meta and
// status frames carry no bytes a terminal emulator would understand
// and are dropped.
type rawClient struct {
	sshSess ssh.Session
	mu      sync.Mutex
}

func (c *rawClient) Send(msg session.OutMessage) {
	switch msg.Type {
	case "snapshot", "output":
		c.mu.Lock()
		defer c.mu.Unlock()
		io.WriteString(c.sshSess, msg.Data)
	}
}
