package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/trybotster/tabminal/internal/ptyio"
	"github.com/trybotster/tabminal/internal/termstream"
)

// executionsLimit is the bounded list cap named in spec.md §3.
const executionsLimit = 100

// PTY is the subset of ptyio.PTY a Session depends on; narrowed to an
// interface so tests can substitute a fake.
type PTY interface {
	Write(data []byte) (int, error)
	Resize(cols, rows uint16) error
	OnData(ptyio.DataHandler) *ptyio.Subscription
	OnExit(ptyio.ExitHandler) *ptyio.Subscription
	PID() int
}

// Config wires a freshly spawned PTY into a new Session.
type Config struct {
	ID         string
	Shell      string
	InitialCwd string
	Cols, Rows uint16

	// HistoryBytes<=0 uses the package default.
	HistoryBytes int

	// OnResizeAll, when set, is called instead of resizing this
	// session's own PTY directly whenever a client sends a resize
	// message — per spec.md §4.4, client resizes propagate through the
	// Registry's global resize path so every session shares one
	// geometry. The Registry is expected to call back into Resize for
	// every session it owns, including this one.
	OnResizeAll func(cols, rows uint16)

	// OnExit is called exactly once, after the session has marked
	// itself closed and broadcast the terminal status, so the Registry
	// can remove it and potentially auto-respawn. This is the "weak
	// back-reference" from Session to Registry named in spec.md §9:
	// Session never calls Registry methods directly except through
	// this callback.
	OnExit func()

	// RCCleanup removes the shell-integration temp rc file. Called once
	// on PTY exit.
	RCCleanup func()

	Logger *slog.Logger
}

// Session owns one PTY, its stream interpreter, history, execution
// records, and attached clients, per spec.md §4.4. All mutable state
// is guarded by mu; PTY-data, client-inbound, and prober updates are
// serialized through it, matching the single cooperative actor model
// of spec.md §5. Handlers that might block (client dispatch) are
// invoked only after releasing mu.
type Session struct {
	id         string
	createdAt  time.Time
	shell      string
	initialCwd string
	pty        PTY
	scanner    *termstream.Scanner
	history    *History
	logger     *slog.Logger

	onResizeAll func(uint16, uint16)
	onExit      func()
	rcCleanup   func()

	mu            sync.Mutex
	cols, rows    uint16
	title         string
	cwd           string
	env           string
	lastExecution *termstream.ExecutionRecord
	executions    []termstream.ExecutionRecord
	clients       map[uint64]*clientConn
	nextClientID  uint64
	closed        bool

	dataSub *ptyio.Subscription
	exitSub *ptyio.Subscription
}

// New constructs a Session around an already-spawned PTY and subscribes
// to its output and exit events.
func New(cfg Config, pty PTY) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:          cfg.ID,
		createdAt:   time.Now(),
		shell:       cfg.Shell,
		initialCwd:  cfg.InitialCwd,
		pty:         pty,
		scanner:     termstream.NewScanner(),
		history:     NewHistory(cfg.HistoryBytes),
		logger:      logger.With("session", cfg.ID),
		onResizeAll: cfg.OnResizeAll,
		onExit:      cfg.OnExit,
		rcCleanup:   cfg.RCCleanup,
		cols:        cfg.Cols,
		rows:        cfg.Rows,
		title:       shellTitle(cfg.Shell),
		cwd:         cfg.InitialCwd,
		clients:     make(map[uint64]*clientConn),
	}

	s.dataSub = pty.OnData(s.handlePTYData)
	s.exitSub = pty.OnExit(s.handlePTYExit)

	return s
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the immutable creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Shell returns the spawned executable's path.
func (s *Session) Shell() string { return s.shell }

// PID returns the pty leader's process id, for the Foreground Prober to
// walk descendants from.
func (s *Session) PID() int { return s.pty.PID() }

// Closed reports whether the session's PTY has exited.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) handlePTYData(chunk []byte) {
	feed := s.scanner.Feed(chunk)

	s.mu.Lock()
	s.history.Append(feed.Clean)

	var metaMsg *OutMessage
	if feed.TitleChanged {
		s.title = feed.Title
	}
	if feed.CwdChanged {
		s.cwd = feed.Cwd
	}
	if feed.TitleChanged || feed.CwdChanged {
		m := s.metaMessageLocked()
		metaMsg = &m
	}
	for _, rec := range feed.Executions {
		s.recordExecutionLocked(rec)
	}
	clients := s.clientsSnapshotLocked()
	s.mu.Unlock()

	if len(feed.Clean) > 0 {
		out := OutMessage{Type: outOutput, Data: string(feed.Clean)}
		broadcast(clients, out)
	}
	if metaMsg != nil {
		broadcast(clients, *metaMsg)
	}
	// Execution-record completion is logged after the bytes comprising
	// it have already been broadcast above (spec.md §5 ordering).
	for _, rec := range feed.Executions {
		s.logger.Info("execution completed",
			"command", derefOrEmpty(rec.Command),
			"exit_code", rec.ExitCode,
			"duration_ms", rec.DurationMs(),
		)
	}
}

func (s *Session) recordExecutionLocked(rec termstream.ExecutionRecord) {
	r := rec
	s.lastExecution = &r
	s.executions = append(s.executions, rec)
	if over := len(s.executions) - executionsLimit; over > 0 {
		s.executions = s.executions[over:]
	}
}

func (s *Session) handlePTYExit(code int, signal string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := s.clientsSnapshotLocked()
	s.mu.Unlock()

	var sig *string
	if signal != "" {
		sig = &signal
	}
	broadcast(clients, OutMessage{Type: outStatus, Status: statusTerminated, Code: &code, Signal: sig})

	if s.rcCleanup != nil {
		s.rcCleanup()
	}
	if s.onExit != nil {
		s.onExit()
	}
}

// Attach registers a new client, sending the atomic greeting (snapshot,
// meta, status) before returning, per spec.md §4.4. The returned detach
// func removes the client from the broadcast set without closing the
// handle (the transport layer owns that).
func (s *Session) Attach(handle ClientHandle) (id uint64, detach func()) {
	s.mu.Lock()
	id = s.nextClientID
	s.nextClientID++
	conn := newClientConn(id, handle)
	s.clients[id] = conn

	snapshot := OutMessage{Type: outSnapshot, Data: string(s.history.Snapshot())}
	meta := s.metaMessageLocked()
	status := OutMessage{Type: outStatus, Status: statusReady}
	if s.closed {
		status.Status = statusTerminated
	}
	// Enqueue the greeting before releasing mu so no output or meta
	// broadcast can reach this client ahead of its snapshot.
	conn.enqueue(snapshot)
	conn.enqueue(meta)
	conn.enqueue(status)
	s.mu.Unlock()

	return id, func() { s.detach(id) }
}

func (s *Session) detach(id uint64) {
	s.mu.Lock()
	conn, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if ok {
		conn.stop()
	}
}

// HandleClientMessage dispatches one inbound client frame per spec.md
// §4.4's client→session message table. Malformed messages are ignored.
func (s *Session) HandleClientMessage(clientID uint64, msg InMessage) {
	switch msg.Type {
	case inInput:
		s.handleInput(msg.Data)
	case inResize:
		s.handleResize(msg.Cols, msg.Rows)
	case inPing:
		s.handlePing(clientID)
	}
}

func (s *Session) handleInput(data string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || data == "" {
		return
	}
	_, _ = s.pty.Write([]byte(data))
}

func (s *Session) handleResize(cols, rows int) {
	if cols <= 0 || rows <= 0 || cols > maxDimension || rows > maxDimension {
		return
	}
	s.mu.Lock()
	onResizeAll := s.onResizeAll
	s.mu.Unlock()
	if onResizeAll != nil {
		onResizeAll(uint16(cols), uint16(rows))
		return
	}
	_ = s.Resize(uint16(cols), uint16(rows))
}

func (s *Session) handlePing(clientID uint64) {
	s.mu.Lock()
	conn, ok := s.clients[clientID]
	s.mu.Unlock()
	if ok {
		conn.enqueue(OutMessage{Type: outPong})
	}
}

// Resize changes this session's PTY geometry and broadcasts the updated
// meta to every attached client. Called directly by tests or by the
// Registry's ResizeAll for every session it owns, including the one
// whose client originated the resize request.
func (s *Session) Resize(cols, rows uint16) error {
	if err := s.pty.Resize(cols, rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	meta := s.metaMessageLocked()
	clients := s.clientsSnapshotLocked()
	s.mu.Unlock()

	broadcast(clients, meta)
	return nil
}

// SetProbedMeta is called by the Foreground Prober with its derived
// title/cwd/env. Only actual changes trigger a broadcast.
func (s *Session) SetProbedMeta(title, cwd, env string) {
	s.mu.Lock()
	changed := false
	if title != "" && title != s.title {
		s.title = title
		changed = true
	}
	if cwd != "" && cwd != s.cwd {
		s.cwd = cwd
		changed = true
	}
	if env != s.env {
		s.env = env
		changed = true
	}
	var meta OutMessage
	var clients []*clientConn
	if changed {
		meta = s.metaMessageLocked()
		clients = s.clientsSnapshotLocked()
	}
	s.mu.Unlock()

	if changed {
		broadcast(clients, meta)
	}
}

func (s *Session) metaMessageLocked() OutMessage {
	title, cwd, env := s.title, s.cwd, s.env
	return OutMessage{Type: outMeta, Title: &title, Cwd: &cwd, Env: &env, Cols: s.cols, Rows: s.rows}
}

func (s *Session) clientsSnapshotLocked() []*clientConn {
	out := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func broadcast(clients []*clientConn, msg OutMessage) {
	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Dispose stops the session's client dispatchers and unsubscribes from
// the PTY, without closing attached client handles (the transport
// owner is responsible for that) and without killing the PTY (the
// Registry does that explicitly before calling Dispose).
func (s *Session) Dispose() {
	s.dataSub.Dispose()
	s.exitSub.Dispose()

	s.mu.Lock()
	clients := s.clientsSnapshotLocked()
	s.clients = make(map[uint64]*clientConn)
	s.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

// Summary is the per-session projection returned by Registry.List.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Shell      string    `json:"shell"`
	Cwd        string    `json:"cwd"`
	Title      string    `json:"title"`
	Env        string    `json:"env"`
	Cols       uint16    `json:"cols"`
	Rows       uint16    `json:"rows"`
	Executions int       `json:"executions"`
}

// Summary returns a point-in-time snapshot of this session's metadata.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		Shell:      s.shell,
		Cwd:        s.cwd,
		Title:      s.title,
		Env:        s.env,
		Cols:       s.cols,
		Rows:       s.rows,
		Executions: len(s.executions),
	}
}

// LastExecution returns the most recently completed execution record,
// or nil if no command has completed yet.
func (s *Session) LastExecution() *termstream.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExecution
}

// Executions returns a copy of the bounded execution history.
func (s *Session) Executions() []termstream.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]termstream.ExecutionRecord, len(s.executions))
	copy(out, s.executions)
	return out
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shellTitle(shell string) string {
	for i := len(shell) - 1; i >= 0; i-- {
		if shell[i] == '/' {
			return shell[i+1:]
		}
	}
	return shell
}

// MarshalJSON lets InMessage round-trip cleanly through encoding/json
// even though it is usually decoded, not encoded.
func (m InMessage) MarshalJSON() ([]byte, error) {
	type alias InMessage
	return json.Marshal(alias(m))
}
