package sshattach

import (
	"testing"

	"github.com/gliderlabs/ssh"
	"github.com/trybotster/tabminal/internal/session"
)

// recordingSSHSession satisfies ssh.Session by embedding the interface;
// only Write is implemented, which is all rawClient.Send calls.
type recordingSSHSession struct {
	ssh.Session
	writes []string
}

func (r *recordingSSHSession) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func TestRawClientOnlyForwardsTerminalBytes(t *testing.T) {
	fake := &recordingSSHSession{}
	send := (&rawClient{sshSess: fake}).Send

	send(session.OutMessage{Type: "snapshot", Data: "previous output"})
	send(session.OutMessage{Type: "output", Data: "$ ls\n"})
	title := "bash"
	send(session.OutMessage{Type: "meta", Title: &title})
	send(session.OutMessage{Type: "status", Status: "ready"})
	send(session.OutMessage{Type: "pong"})

	got := fake.writes
	if len(got) != 2 || got[0] != "previous output" || got[1] != "$ ls\n" {
		t.Fatalf("expected only snapshot/output bytes forwarded, got %v", got)
	}
}

func TestUserPrefixParsing(t *testing.T) {
	cases := map[string]string{
		"session-abc123": "abc123",
		"":                "",
		"someone":         "",
		"session-":        "",
	}
	for user, want := range cases {
		got := ""
		if len(user) > len(userPrefix) && user[:len(userPrefix)] == userPrefix {
			got = user[len(userPrefix):]
		}
		if got != want {
			t.Fatalf("user %q: got %q, want %q", user, got, want)
		}
	}
}
