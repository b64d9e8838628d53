package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trybotster/tabminal/internal/ptyio"
	"github.com/trybotster/tabminal/internal/registry"
	"github.com/trybotster/tabminal/internal/session"
)

// fakePTY is a minimal in-memory stand-in so tests never spawn a real
// shell, mirroring the fakes used by the session and registry packages.
type fakePTY struct {
	pid  int
	data []ptyio.DataHandler
	exit []ptyio.ExitHandler
}

func (f *fakePTY) Write(b []byte) (int, error)    { return len(b), nil }
func (f *fakePTY) Resize(cols, rows uint16) error { return nil }
func (f *fakePTY) OnData(h ptyio.DataHandler) *ptyio.Subscription {
	f.data = append(f.data, h)
	return &ptyio.Subscription{}
}
func (f *fakePTY) OnExit(h ptyio.ExitHandler) *ptyio.Subscription {
	f.exit = append(f.exit, h)
	return &ptyio.Subscription{}
}
func (f *fakePTY) PID() int { return f.pid }
func (f *fakePTY) Kill(sig os.Signal) {
	for _, h := range f.exit {
		h(0, "")
	}
}

type fakeSpawner struct{ next int }

func (s *fakeSpawner) Spawn(cfg ptyio.SpawnConfig, logger *slog.Logger) (registry.PTY, error) {
	s.next++
	return &fakePTY{pid: s.next}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{
		DefaultShell:  "/bin/bash",
		ProbeInterval: time.Hour,
		Spawner:       &fakeSpawner{},
	})
	if _, err := reg.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	srv := New(reg, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(reg.Dispose)
	return ts, reg
}

func TestHeartbeatListsSessions(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/heartbeat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sessions, ok := out.Sessions.([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %#v", out.Sessions)
	}
}

func TestCreateAndDeleteSession(t *testing.T) {
	ts, reg := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var summary session.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.Get(summary.ID) == nil {
		t.Fatalf("session %s not registered", summary.ID)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+summary.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}
}

func TestDeleteUnknownSessionReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/doesnotexist", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAttachReceivesGreetingAndAnswersPing(t *testing.T) {
	ts, reg := newTestServer(t)
	sessions := reg.List()
	if len(sessions) == 0 {
		t.Fatal("expected at least one session")
	}
	id := sessions[0].ID

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msgTypes []string
	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg session.OutMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read greeting %d: %v", i, err)
		}
		msgTypes = append(msgTypes, msg.Type)
	}
	if msgTypes[0] != "snapshot" || msgTypes[1] != "meta" || msgTypes[2] != "status" {
		t.Fatalf("unexpected greeting order: %v", msgTypes)
	}

	if err := conn.WriteJSON(session.InMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong session.OutMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Fatalf("expected pong, got %q", pong.Type)
	}
}

func TestAttachUnknownSessionReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ws/doesnotexist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
