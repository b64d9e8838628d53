package termstream

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func feedAll(s *Scanner, chunks ...string) Feed {
	var merged Feed
	for _, c := range chunks {
		f := s.Feed([]byte(c))
		merged.Clean = append(merged.Clean, f.Clean...)
		merged.Executions = append(merged.Executions, f.Executions...)
		if f.TitleChanged {
			merged.TitleChanged, merged.Title = true, f.Title
		}
		if f.CwdChanged {
			merged.CwdChanged, merged.Cwd = true, f.Cwd
		}
	}
	return merged
}

func mustOneExecution(t *testing.T, f Feed) ExecutionRecord {
	t.Helper()
	if len(f.Executions) != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", len(f.Executions))
	}
	return f.Executions[0]
}

// Scenario 1: basic capture.
func TestScenarioBasicCapture(t *testing.T) {
	s := NewScanner()
	s.Clock = fixedClock(time.Unix(0, 0))

	f := feedAll(s,
		"prompt$ \x1b]1337;TabminalPrompt\x07",
		"ls\nfile.txt\n",
		"\x1b]1337;ExitCode=0;CommandB64=bHM=\x07",
	)
	rec := mustOneExecution(t, f)
	if rec.Command == nil || *rec.Command != "ls" {
		t.Fatalf("command = %v, want ls", rec.Command)
	}
	if rec.ExitCode != 0 {
		t.Fatalf("exitCode = %d, want 0", rec.ExitCode)
	}
	if rec.Input != "ls\n" {
		t.Fatalf("input = %q, want %q", rec.Input, "ls\n")
	}
	if rec.Output != "file.txt\n" {
		t.Fatalf("output = %q, want %q", rec.Output, "file.txt\n")
	}
}

// Scenario 2: consecutive commands.
func TestScenarioConsecutiveCommands(t *testing.T) {
	s := NewScanner()
	feedAll(s,
		"prompt$ \x1b]1337;TabminalPrompt\x07",
		"ls\nfile.txt\n",
		"\x1b]1337;ExitCode=0;CommandB64=bHM=\x07",
	)
	f := feedAll(s,
		"prompt$ \x1b]1337;TabminalPrompt\x07",
		"pwd\n/bar\n",
		"\x1b]1337;ExitCode=0;CommandB64=cHdk\x07",
	)
	rec := mustOneExecution(t, f)
	if rec.Command == nil || *rec.Command != "pwd" {
		t.Fatalf("command = %v, want pwd", rec.Command)
	}
	if rec.Output != "/bar\n" {
		t.Fatalf("output = %q, want %q", rec.Output, "/bar\n")
	}
}

// Scenario 3: fancy multi-line prompt decoration stripped.
func TestScenarioFancyPromptStripped(t *testing.T) {
	s := NewScanner()
	feedAll(s, "\r\n⎧ banner\r\n⎨ /vols\r\n⎩ \x1b[33m$ ❯\x1b[0m \x1b]1337;TabminalPrompt\x07")
	f := feedAll(s, "ls\nclient\n", "\x1b]1337;ExitCode=0;CommandB64=bHM=\x07")
	rec := mustOneExecution(t, f)
	if rec.Command == nil || *rec.Command != "ls" {
		t.Fatalf("command = %v, want ls", rec.Command)
	}
	if rec.Output != "client\n" {
		t.Fatalf("output = %q, want %q", rec.Output, "client\n")
	}
}

// Scenario 4: continuation prompts included in input.
func TestScenarioContinuationPrompts(t *testing.T) {
	s := NewScanner()
	feedAll(s, "\x1b]1337;TabminalPrompt\x07")
	f := feedAll(s,
		"echo first \\\r\n> second \\\r\n> third\r\nfirst second third\n",
		// base64("echo first second third")
		"\x1b]1337;ExitCode=0;CommandB64=ZWNobyBmaXJzdCBzZWNvbmQgdGhpcmQ=\x07",
	)
	rec := mustOneExecution(t, f)
	if rec.Command == nil || *rec.Command != "echo first second third" {
		t.Fatalf("command = %v", rec.Command)
	}
	wantInput := "echo first \\\r\n> second \\\r\n> third\r\n"
	if rec.Input != wantInput {
		t.Fatalf("input = %q, want %q", rec.Input, wantInput)
	}
	if rec.Output != "first second third\n" {
		t.Fatalf("output = %q, want %q", rec.Output, "first second third\n")
	}
}

// Scenario 5: backspace normalization in echo.
func TestScenarioBackspaceNormalization(t *testing.T) {
	s := NewScanner()
	feedAll(s, "\x1b]1337;TabminalPrompt\x07")
	f := feedAll(s,
		"ls -XXXX\b\b\b\b\x1b[KBB\r\nitem\n",
		// base64("ls -BB")
		"\x1b]1337;ExitCode=0;CommandB64=bHMgLUJC\x07",
	)
	rec := mustOneExecution(t, f)
	if rec.Command == nil || *rec.Command != "ls -BB" {
		t.Fatalf("command = %v, want ls -BB", rec.Command)
	}
	if rec.Input != "ls -BB\r\n" {
		t.Fatalf("input = %q, want %q", rec.Input, "ls -BB\r\n")
	}
	if rec.Output != "item\n" {
		t.Fatalf("output = %q, want %q", rec.Output, "item\n")
	}
}

// A marker split across two Feed calls must be recognized exactly once.
func TestMarkerSplitAcrossChunks(t *testing.T) {
	s := NewScanner()
	feedAll(s, "\x1b]1337;TabminalPrompt\x07")
	feedAll(s, "ls\nfile.txt\n")

	full := "\x1b]1337;ExitCode=0;CommandB64=bHM=\x07"
	mid := len(full) / 2

	f1 := s.Feed([]byte(full[:mid]))
	if len(f1.Executions) != 0 {
		t.Fatalf("expected no execution before marker completes, got %d", len(f1.Executions))
	}
	f2 := s.Feed([]byte(full[mid:]))
	if len(f2.Executions) != 1 {
		t.Fatalf("expected exactly 1 execution once marker completes, got %d", len(f2.Executions))
	}
}

// Private markers never appear in the cleaned stream.
func TestCleanStreamStripsPrivateMarkers(t *testing.T) {
	s := NewScanner()
	f := feedAll(s, "before\x1b]1337;TabminalPrompt\x07after")
	if string(f.Clean) != "beforeafter" {
		t.Fatalf("clean = %q, want %q", f.Clean, "beforeafter")
	}
}

// Standard OSC title/cwd updates are passed through AND tracked.
func TestStandardOSCTitleAndCwd(t *testing.T) {
	s := NewScanner()
	f := feedAll(s, "\x1b]0;my title\x07")
	if !f.TitleChanged || f.Title != "my title" {
		t.Fatalf("title change = %v %q", f.TitleChanged, f.Title)
	}
	if string(f.Clean) != "\x1b]0;my title\x07" {
		t.Fatalf("expected standard OSC to pass through, got %q", f.Clean)
	}

	f2 := feedAll(s, "\x1b]7;file:///home/x\x07")
	if !f2.CwdChanged || f2.Cwd != "/home/x" {
		t.Fatalf("cwd change = %v %q", f2.CwdChanged, f2.Cwd)
	}
}

// Base64 decode failure still yields a record with command=null.
func TestExitMarkerBadBase64(t *testing.T) {
	s := NewScanner()
	feedAll(s, "\x1b]1337;TabminalPrompt\x07")
	f := feedAll(s, "whatever\n", "\x1b]1337;ExitCode=1;CommandB64=!!!not-valid-base64!!!\x07")
	rec := mustOneExecution(t, f)
	if rec.Command != nil {
		t.Fatalf("expected nil command on bad base64, got %v", *rec.Command)
	}
	if rec.ExitCode != 1 {
		t.Fatalf("exitCode = %d, want 1", rec.ExitCode)
	}
}

func TestEchoNormalizationIdempotent(t *testing.T) {
	raw := []byte("ls -XXXX\b\b\b\b\x1b[KBB")
	once := buildLogicalLine(raw)
	twice := buildLogicalLine([]byte(once))
	if once != twice {
		t.Fatalf("normalization not idempotent: %q vs %q", once, twice)
	}
}
