// Package ptyio abstracts over OS pseudo-terminals. It is the sole
// permitted owner of pty file descriptors; every other package manipulates
// a pty only through the PTY type returned here.
package ptyio

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// DataHandler receives a chunk of raw bytes read from the pty.
type DataHandler func(chunk []byte)

// ExitHandler receives the process's exit code and signal name (empty if none).
type ExitHandler func(code int, signal string)

// Subscription lets a caller stop receiving callbacks.
type Subscription struct {
	dispose func()
	once    sync.Once
}

// Dispose unregisters the handler. Safe to call more than once.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.dispose != nil {
			s.dispose()
		}
	})
}

// SpawnConfig describes a shell to spawn under a pty.
type SpawnConfig struct {
	Shell string
	Args  []string
	Cols  uint16
	Rows  uint16
	Dir   string
	Env   []string
}

// PTY wraps one spawned process's pseudo-terminal.
type PTY struct {
	file *os.File
	cmd  *exec.Cmd
	pid  int

	logger *slog.Logger

	mu   sync.Mutex
	cols uint16
	rows uint16

	dataHandlers map[int]DataHandler
	exitHandlers map[int]ExitHandler
	nextHandler  int

	readerWg sync.WaitGroup
	done     chan struct{}
	closeOne sync.Once
}

// Spawn starts shell as the pty leader and begins the background read loop.
// The returned PTY emits callbacks from a single logical producer goroutine.
func Spawn(cfg SpawnConfig, logger *slog.Logger) (*PTY, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	size := &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols}
	f, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("ptyio: spawn %s: %w", cfg.Shell, err)
	}

	p := &PTY{
		file:         f,
		cmd:          cmd,
		pid:          cmd.Process.Pid,
		logger:       logger.With("pid", cmd.Process.Pid),
		cols:         cfg.Cols,
		rows:         cfg.Rows,
		dataHandlers: make(map[int]DataHandler),
		exitHandlers: make(map[int]ExitHandler),
		done:         make(chan struct{}),
	}

	p.readerWg.Add(1)
	go p.readLoop()

	return p, nil
}

// PID returns the spawned process id.
func (p *PTY) PID() int { return p.pid }

// OnData registers a handler invoked for every chunk read from the pty.
func (p *PTY) OnData(h DataHandler) *Subscription {
	p.mu.Lock()
	id := p.nextHandler
	p.nextHandler++
	p.dataHandlers[id] = h
	p.mu.Unlock()

	return &Subscription{dispose: func() {
		p.mu.Lock()
		delete(p.dataHandlers, id)
		p.mu.Unlock()
	}}
}

// OnExit registers a handler invoked once when the process exits.
func (p *PTY) OnExit(h ExitHandler) *Subscription {
	p.mu.Lock()
	id := p.nextHandler
	p.nextHandler++
	p.exitHandlers[id] = h
	p.mu.Unlock()

	return &Subscription{dispose: func() {
		p.mu.Lock()
		delete(p.exitHandlers, id)
		p.mu.Unlock()
	}}
}

// Write sends bytes to the pty (keyboard input direction).
func (p *PTY) Write(data []byte) (int, error) {
	return p.file.Write(data)
}

// Resize changes the pty window size.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return pty.Setsize(p.file, &pty.Winsize{Rows: rows, Cols: cols})
}

// Size returns the current geometry.
func (p *PTY) Size() (cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Kill sends sig to the process and releases the pty. It blocks until
// the read loop has drained and fired exit handlers. A graceful
// shutdown sends syscall.SIGHUP so the shell runs its own exit traps;
// a hard removal sends os.Kill.
func (p *PTY) Kill(sig os.Signal) {
	p.closeOne.Do(func() {
		close(p.done)
	})
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(sig)
	}
	p.readerWg.Wait()
}

func (p *PTY) readLoop() {
	defer p.readerWg.Done()
	buf := make([]byte, 4096)

	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.dispatchData(chunk)
		}
		if err != nil {
			break
		}
	}

	code, signal := p.waitExit()
	_ = p.file.Close()
	p.dispatchExit(code, signal)
}

func (p *PTY) waitExit() (code int, signal string) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			code = status.ExitStatus()
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
		return code, signal
	}
	return -1, ""
}

func (p *PTY) dispatchData(chunk []byte) {
	p.mu.Lock()
	handlers := make([]DataHandler, 0, len(p.dataHandlers))
	for _, h := range p.dataHandlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(chunk)
	}
}

func (p *PTY) dispatchExit(code int, signal string) {
	p.mu.Lock()
	handlers := make([]ExitHandler, 0, len(p.exitHandlers))
	for _, h := range p.exitHandlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(code, signal)
	}
}
