package registry

import (
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/trybotster/tabminal/internal/ptyio"
)

type fakePTY struct {
	mu   sync.Mutex
	pid  int
	cols uint16
	rows uint16
	data []ptyio.DataHandler
	exit []ptyio.ExitHandler

	killSignals []os.Signal
}

func (f *fakePTY) Write(data []byte) (int, error) { return len(data), nil }
func (f *fakePTY) Resize(cols, rows uint16) error {
	f.mu.Lock()
	f.cols, f.rows = cols, rows
	f.mu.Unlock()
	return nil
}
func (f *fakePTY) OnData(h ptyio.DataHandler) *ptyio.Subscription {
	f.mu.Lock()
	f.data = append(f.data, h)
	f.mu.Unlock()
	return &ptyio.Subscription{}
}
func (f *fakePTY) OnExit(h ptyio.ExitHandler) *ptyio.Subscription {
	f.mu.Lock()
	f.exit = append(f.exit, h)
	f.mu.Unlock()
	return &ptyio.Subscription{}
}
func (f *fakePTY) PID() int { return f.pid }
func (f *fakePTY) Kill(sig os.Signal) {
	f.mu.Lock()
	f.killSignals = append(f.killSignals, sig)
	f.mu.Unlock()
}

func (f *fakePTY) fireExit(code int, signal string) {
	f.mu.Lock()
	handlers := append([]ptyio.ExitHandler(nil), f.exit...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(code, signal)
	}
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawned []*fakePTY
	nextPID int
}

func (s *fakeSpawner) Spawn(cfg ptyio.SpawnConfig, logger *slog.Logger) (PTY, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	p := &fakePTY{pid: s.nextPID, cols: cfg.Cols, rows: cfg.Rows}
	s.spawned = append(s.spawned, p)
	return p, nil
}

func newTestRegistry() (*Registry, *fakeSpawner) {
	spawner := &fakeSpawner{}
	r := New(Config{DefaultShell: "/bin/bash", Spawner: spawner, Logger: slog.Default()})
	return r, spawner
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry()
	sess, err := r.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Get(sess.ID()) != sess {
		t.Fatalf("Get did not return the created session")
	}
	if r.Get("nonexistent") != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestAutoRespawnOnLastRemoval(t *testing.T) {
	r, spawner := newTestRegistry()
	sess, err := r.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	oldID := sess.ID()

	spawner.mu.Lock()
	pty := spawner.spawned[0]
	spawner.mu.Unlock()
	pty.fireExit(0, "")

	waitFor(t, func() bool { return len(r.List()) == 1 })
	list := r.List()
	if list[0].ID == oldID {
		t.Fatalf("expected a new session id after auto-respawn, got the same id")
	}
}

func TestDisposeSuppressesAutoRespawn(t *testing.T) {
	r, _ := newTestRegistry()
	if _, err := r.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Dispose()
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry after Dispose, got %d", len(r.List()))
	}
}

func TestDisposeSendsSIGHUP(t *testing.T) {
	r, spawner := newTestRegistry()
	if _, err := r.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	spawner.mu.Lock()
	pty := spawner.spawned[0]
	spawner.mu.Unlock()

	r.Dispose()

	pty.mu.Lock()
	signals := append([]os.Signal(nil), pty.killSignals...)
	pty.mu.Unlock()
	if len(signals) != 1 || signals[0] != syscall.SIGHUP {
		t.Fatalf("expected a single SIGHUP, got %v", signals)
	}
}

func TestDeleteSendsKill(t *testing.T) {
	r, spawner := newTestRegistry()
	sess, err := r.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.Delete(sess.ID()) {
		t.Fatalf("Delete returned false for known session")
	}

	spawner.mu.Lock()
	pty := spawner.spawned[0]
	spawner.mu.Unlock()
	pty.mu.Lock()
	signals := append([]os.Signal(nil), pty.killSignals...)
	pty.mu.Unlock()
	if len(signals) != 1 || signals[0] != os.Kill {
		t.Fatalf("expected a single os.Kill, got %v", signals)
	}

	if r.Delete("nonexistent") {
		t.Fatalf("expected Delete of unknown id to return false")
	}
}

func TestResizeAllUpdatesDefaultGeometry(t *testing.T) {
	r, spawner := newTestRegistry()
	if _, err := r.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.ResizeAll(120, 40)

	spawner.mu.Lock()
	pty := spawner.spawned[0]
	spawner.mu.Unlock()
	pty.mu.Lock()
	cols, rows := pty.cols, pty.rows
	pty.mu.Unlock()
	if cols != 120 || rows != 40 {
		t.Fatalf("expected pty resized to 120x40, got %dx%d", cols, rows)
	}

	sess2, err := r.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess2.Summary().Cols != 120 || sess2.Summary().Rows != 40 {
		t.Fatalf("expected new session to seed from last geometry, got %+v", sess2.Summary())
	}
}

func TestListStableOrder(t *testing.T) {
	r, _ := newTestRegistry()
	s1, _ := r.Create()
	s2, _ := r.Create()
	s3, _ := r.Create()

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	if list[0].ID != s1.ID() || list[1].ID != s2.ID() || list[2].ID != s3.ID() {
		t.Fatalf("expected creation order, got %+v", list)
	}
}
