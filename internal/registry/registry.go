// Package registry implements the Session Registry (spec.md §4.5): the
// map of sessions keyed by opaque id, creation/deletion, global resize,
// and the auto-respawn invariant.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/trybotster/tabminal/internal/prober"
	"github.com/trybotster/tabminal/internal/ptyio"
	"github.com/trybotster/tabminal/internal/session"
	"github.com/trybotster/tabminal/internal/shellintegration"
)

// Spawner abstracts github.com/creack/pty-backed process creation so
// tests can substitute a fake without spawning a real shell.
type Spawner interface {
	Spawn(cfg ptyio.SpawnConfig, logger *slog.Logger) (PTY, error)
}

// PTY is the subset of ptyio.PTY the Registry and Session need.
type PTY interface {
	session.PTY
	Kill(sig os.Signal)
}

// Config configures session defaults.
type Config struct {
	DefaultShell  string
	HistoryBytes  int
	ProbeInterval time.Duration
	Logger        *slog.Logger
	Spawner       Spawner
}

// Registry owns every live Session, grounded on the teacher's Hub
// (mutex-guarded map, stable-ordered List) and generalized to opaque
// session ids plus the auto-respawn invariant the teacher's Hub does
// not implement.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*entry
	order     []string
	lastCols  uint16
	lastRows  uint16
	disposing bool
}

type entry struct {
	session *session.Session
	pty     PTY
	prober  *prober.Prober
}

// New returns a Registry with no sessions. Callers typically follow up
// with Create to satisfy the "at least one session exists" invariant.
func New(cfg Config) *Registry {
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = defaultShell()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Spawner == nil {
		cfg.Spawner = realSpawner{}
	}
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*entry),
		lastCols: 80,
		lastRows: 24,
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// Create spawns a new PTY (seeded with the Registry's current default
// geometry) behind a fresh Session and registers it under a random id.
// PTY spawn failures propagate to the caller; the Registry is left
// unchanged (spec.md §7).
func (r *Registry) Create() (*session.Session, error) {
	r.mu.Lock()
	cols, rows := r.lastCols, r.lastRows
	shell := r.cfg.DefaultShell
	r.mu.Unlock()

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("registry: generate session id: %w", err)
	}

	cwd, _ := os.Getwd()
	kind := shellintegration.DetectKind(shell)
	userRC := ""
	install, err := shellintegration.Install(kind, id, userRC)
	if err != nil {
		return nil, fmt.Errorf("registry: install shell integration: %w", err)
	}

	var args []string
	if install.RCPath != "" {
		switch kind {
		case shellintegration.Bash:
			args = []string{"--rcfile", install.RCPath, "-i"}
		case shellintegration.Zsh:
			args = []string{"-i"}
		}
	} else {
		args = []string{"-i"}
	}

	env := os.Environ()
	if install.RCPath != "" && kind == shellintegration.Zsh {
		env = append(env, "ZDOTDIR="+filepath.Dir(install.RCPath))
	}
	env = append(env, "TERM=xterm-256color", "COLORTERM=truecolor")

	pty, err := r.cfg.Spawner.Spawn(ptyio.SpawnConfig{
		Shell: shell,
		Args:  args,
		Cols:  cols,
		Rows:  rows,
		Dir:   cwd,
		Env:   env,
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("registry: spawn pty: %w", err)
	}

	sess := session.New(session.Config{
		ID:           id,
		Shell:        shell,
		InitialCwd:   cwd,
		Cols:         cols,
		Rows:         rows,
		HistoryBytes: r.cfg.HistoryBytes,
		OnResizeAll:  r.ResizeAll,
		OnExit:       func() { r.Remove(id) },
		RCCleanup:    install.Cleanup,
		Logger:       r.logger,
	}, pty)

	p := prober.Start(sess, prober.Default(), r.logger, r.cfg.ProbeInterval)

	r.mu.Lock()
	r.sessions[id] = &entry{session: sess, pty: pty, prober: p}
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Info("session created", "session", id, "pid", pty.PID())
	return sess, nil
}

// Get returns the session for id, or nil if it does not exist.
func (r *Registry) Get(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return e.session
}

// Remove disposes the named session, drops it from the map, and — if
// the registry is not shutting down and just became empty — creates
// one replacement immediately, satisfying the auto-respawn invariant
// of spec.md §3/§8.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	r.order = removeID(r.order, id)
	empty := len(r.sessions) == 0
	disposing := r.disposing
	r.mu.Unlock()

	e.prober.Stop()
	e.session.Dispose()
	r.logger.Info("session removed", "session", id)

	if empty && !disposing {
		if _, err := r.Create(); err != nil {
			r.logger.Error("auto-respawn failed", "error", err)
		}
	}
}

// Delete kills the named session's PTY, which drives it through the
// same exit path as a natural process exit (terminal status broadcast,
// Remove, auto-respawn if it was the last session). Returns false if
// id is unknown.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.pty.Kill(os.Kill)
	return true
}

// ResizeAll updates the default geometry and resizes every live
// session's PTY, each emitting its own meta broadcast. This is the
// single entry point for the "every client resize propagates to every
// session" behavior named in spec.md §9.
func (r *Registry) ResizeAll(cols, rows uint16) {
	r.mu.Lock()
	r.lastCols, r.lastRows = cols, rows
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Resize(cols, rows); err != nil {
			r.logger.Warn("resize failed", "session", s.ID(), "error", err)
		}
	}
}

// List returns a stable-ordered snapshot of every session's summary.
func (r *Registry) List() []session.Summary {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	out := make([]session.Summary, 0, len(ids))
	for _, id := range ids {
		r.mu.Lock()
		e, ok := r.sessions[id]
		r.mu.Unlock()
		if ok {
			out = append(out, e.session.Summary())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dispose tears down every session and suppresses auto-respawn during
// shutdown, per spec.md §4.5. Every PTY is sent SIGHUP rather than
// killed outright, so the shell gets a chance to run its own exit
// traps on a graceful shutdown.
func (r *Registry) Dispose() {
	r.mu.Lock()
	r.disposing = true
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.sessions = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.prober.Stop()
		e.pty.Kill(syscall.SIGHUP)
		e.session.Dispose()
	}
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func newSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type realSpawner struct{}

func (realSpawner) Spawn(cfg ptyio.SpawnConfig, logger *slog.Logger) (PTY, error) {
	return ptyio.Spawn(cfg, logger)
}
