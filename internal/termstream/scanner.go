// Package termstream implements the stream interpreter: an incremental
// byte-oriented transducer that recovers cleaned output, title/cwd
// metadata, and command-execution records from raw PTY bytes annotated
// with tabminal's private OSC markers.
package termstream

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	esc = 0x1b
	bel = 0x07
)

// scanState is the incremental scanner's state, carried across Feed
// calls so a marker split across chunk boundaries is still recognized.
type scanState int

const (
	stateText scanState = iota
	stateEsc
	stateOSC
	stateOSCEsc
)

// ExecutionRecord is one completed command, derived from an exit marker.
type ExecutionRecord struct {
	Command     *string // nil if the base64 payload failed to decode
	ExitCode    int
	Input       string
	Output      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// DurationMs returns the record's wall-clock duration in milliseconds.
func (r ExecutionRecord) DurationMs() int64 {
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// Feed is the result of processing one chunk.
type Feed struct {
	Clean        []byte
	TitleChanged bool
	Title        string
	CwdChanged   bool
	Cwd          string
	Executions   []ExecutionRecord
}

// Scanner is a stateful per-session stream interpreter. It is not safe
// for concurrent use; callers serialize access the way Session does for
// all its other mutable state.
type Scanner struct {
	Clock func() time.Time

	state  scanState
	oscBuf []byte

	title string
	cwd   string

	captureBuffer    []byte
	captureStartedAt time.Time
}

// NewScanner returns a Scanner ready to process the first chunk of a
// fresh session.
func NewScanner() *Scanner {
	return &Scanner{Clock: time.Now}
}

// Feed processes one chunk of raw PTY output, returning the cleaned
// bytes plus any metadata changes or completed execution records.
func (s *Scanner) Feed(chunk []byte) Feed {
	var out Feed
	clean := make([]byte, 0, len(chunk))
	textRun := make([]byte, 0, len(chunk))

	flushText := func() {
		if len(textRun) == 0 {
			return
		}
		clean = append(clean, textRun...)
		s.appendCapture(textRun)
		textRun = textRun[:0]
	}

	i := 0
	for i < len(chunk) {
		b := chunk[i]
		switch s.state {
		case stateText:
			if b == esc {
				flushText()
				s.state = stateEsc
			} else {
				textRun = append(textRun, b)
			}
			i++

		case stateEsc:
			if b == ']' {
				s.oscBuf = s.oscBuf[:0]
				s.state = stateOSC
				i++
			} else {
				// Not an OSC introducer: pass the ESC and this byte through
				// verbatim as ordinary text.
				textRun = append(textRun, esc, b)
				s.state = stateText
				i++
			}

		case stateOSC:
			switch b {
			case bel:
				s.dispatchOSC(string(s.oscBuf), true, &clean, &out)
				s.state = stateText
				i++
			case esc:
				s.state = stateOSCEsc
				i++
			default:
				s.oscBuf = append(s.oscBuf, b)
				i++
			}

		case stateOSCEsc:
			if b == '\\' {
				s.dispatchOSC(string(s.oscBuf), false, &clean, &out)
				s.state = stateText
				i++
			} else {
				// Lone ESC inside the body that wasn't a string terminator:
				// keep it as literal body content and reprocess this byte.
				s.oscBuf = append(s.oscBuf, esc)
				s.state = stateOSC
			}
		}
	}
	flushText()

	// A dangling ESC at chunk end is held in s.state == stateEsc with no
	// buffered byte; the next Feed call resumes from there.
	out.Clean = clean
	return out
}

// dispatchOSC handles one complete OSC body (without its ESC ] prefix or
// terminator). bel indicates a BEL terminator was used (vs ESC \\).
func (s *Scanner) dispatchOSC(body string, useBEL bool, clean *[]byte, out *Feed) {
	switch {
	case body == "1337;TabminalPrompt":
		s.onPromptMarker()
		return // private marker: stripped from clean stream

	case strings.HasPrefix(body, "1337;ExitCode="):
		if rec, ok := s.onExitMarker(body); ok {
			out.Executions = append(out.Executions, rec)
		}
		return // private marker: stripped from clean stream

	case strings.HasPrefix(body, "1337;"):
		// non-private 1337 body: pass through unchanged

	case strings.HasPrefix(body, "0;"), strings.HasPrefix(body, "2;"):
		title := body[2:]
		if title != s.title {
			s.title = title
			out.TitleChanged = true
			out.Title = title
		}

	case strings.HasPrefix(body, "7;"):
		if u, err := url.Parse(body[2:]); err == nil && u.Scheme == "file" {
			if u.Path != s.cwd {
				s.cwd = u.Path
				out.CwdChanged = true
				out.Cwd = u.Path
			}
		}
	}

	raw := append([]byte{esc, ']'}, []byte(body)...)
	if useBEL {
		raw = append(raw, bel)
	} else {
		raw = append(raw, esc, '\\')
	}
	*clean = append(*clean, raw...)
	s.appendCapture(raw)
}

func (s *Scanner) appendCapture(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(s.captureBuffer) == 0 {
		s.captureStartedAt = s.now()
	}
	s.captureBuffer = append(s.captureBuffer, b...)
}

func (s *Scanner) onPromptMarker() {
	s.captureBuffer = s.captureBuffer[:0]
	s.captureStartedAt = time.Time{}
}

func (s *Scanner) onExitMarker(body string) (ExecutionRecord, bool) {
	rest := strings.TrimPrefix(body, "1337;ExitCode=")
	semi := strings.IndexByte(rest, ';')
	if semi < 0 {
		s.resetCapture()
		return ExecutionRecord{}, false
	}
	codeStr := rest[:semi]
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		s.resetCapture()
		return ExecutionRecord{}, false
	}

	const cmdPrefix = "CommandB64="
	b64Part := rest[semi+1:]
	if !strings.HasPrefix(b64Part, cmdPrefix) {
		s.resetCapture()
		return ExecutionRecord{}, false
	}
	b64 := strings.TrimPrefix(b64Part, cmdPrefix)

	var command *string
	if decoded, err := base64.StdEncoding.DecodeString(b64); err == nil {
		c := strings.TrimSpace(string(decoded))
		command = &c
	}

	now := s.now()
	startedAt := s.captureStartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	var input, output string
	if command != nil {
		input, output = isolateEcho(s.captureBuffer, *command)
	} else {
		output = sanitizeForRecord(s.captureBuffer)
	}

	rec := ExecutionRecord{
		Command:     command,
		ExitCode:    code,
		Input:       input,
		Output:      output,
		StartedAt:   startedAt,
		CompletedAt: now,
	}
	s.resetCapture()
	return rec, true
}

func (s *Scanner) resetCapture() {
	s.captureBuffer = s.captureBuffer[:0]
	s.captureStartedAt = time.Time{}
}

func (s *Scanner) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Title returns the most recently observed title.
func (s *Scanner) Title() string { return s.title }

// Cwd returns the most recently observed working directory.
func (s *Scanner) Cwd() string { return s.cwd }

// SetCwd lets the Foreground Prober seed/override cwd outside of OSC 7.
func (s *Scanner) SetCwd(cwd string) { s.cwd = cwd }

// SetTitle lets the Foreground Prober seed/override title outside of OSC 0/2.
func (s *Scanner) SetTitle(title string) { s.title = title }
