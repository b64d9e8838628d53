package termstream

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// maxFallbackTail bounds the "last occurrence unconditionally" echo
// search per spec.md §4.3.
const maxFallbackTail = 4096

// isolateEcho splits a capture buffer into the echoed command line(s)
// ("input") and the command's own stdout ("output"), given the decoded
// command text from the exit marker.
func isolateEcho(buf []byte, command string) (input, output string) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return "", sanitizeForRecord(buf)
	}

	idx := findEchoStart(buf, cmd, true)
	if idx < 0 {
		if alt := findEchoStart(buf, cmd, false); alt >= 0 && len(buf)-alt <= maxFallbackTail {
			idx = alt
		}
	}
	if idx < 0 {
		idx = reconstructEchoStart(buf, cmd)
	}
	if idx < 0 {
		idx = 0
	}

	rest := buf[idx:]
	return splitInputOutput(rest)
}

// findEchoStart returns the start offset of the last literal occurrence
// of cmd immediately followed by CR, LF, or CRLF. If requireBoundary,
// the byte preceding the match must be start-of-buffer or one of the
// plausible prompt-terminator runes.
func findEchoStart(buf []byte, cmd string, requireBoundary bool) int {
	needle := []byte(cmd)
	if len(needle) == 0 {
		return -1
	}
	last := -1
	from := 0
	for {
		rel := bytes.Index(buf[from:], needle)
		if rel < 0 {
			break
		}
		abs := from + rel
		end := abs + len(needle)
		if end < len(buf) && (buf[end] == '\r' || buf[end] == '\n') {
			if !requireBoundary || precededByBoundary(buf, abs) {
				last = abs
			}
		}
		from = abs + 1
		if from >= len(buf) {
			break
		}
	}
	return last
}

func isBoundaryRune(r rune) bool {
	switch r {
	case ' ', '\t', '$', '>', ':', '\x1b', '❯':
		return true
	}
	return false
}

func precededByBoundary(buf []byte, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRune(buf[:idx])
	return isBoundaryRune(r)
}

// reconstructEchoStart walks physical lines from the start of buf,
// rebuilding each as a logical line (backspaces applied, ANSI skipped).
// A line ending in a trailing backslash is a shell continuation: its
// logical content (minus the backslash) is joined with the next line's
// content (minus any continuation-prompt prefix). The walk succeeds
// when the joined logical text equals, or ends with, cmd.
func reconstructEchoStart(buf []byte, cmd string) int {
	const maxLines = 10000
	for start := 0; start < len(buf); {
		nlRel := bytes.IndexByte(buf[start:], '\n')
		if nlRel < 0 {
			break
		}
		if _, ok := tryReconstructFrom(buf, start, cmd, maxLines); ok {
			return start
		}
		start += nlRel + 1
	}
	return -1
}

func tryReconstructFrom(buf []byte, start int, cmd string, maxLines int) (string, bool) {
	pos := start
	var joined strings.Builder
	strip := false

	for n := 0; n < maxLines && pos <= len(buf); n++ {
		content, _, next, ok := splitFirstLine(buf, pos)
		if !ok {
			break
		}
		if strip {
			content = stripContinuationPrefix(content)
		}
		line := buildLogicalLine(content)
		if strings.HasSuffix(line, "\\") {
			joined.WriteString(strings.TrimSuffix(line, "\\"))
			strip = true
			pos = next
			continue
		}
		joined.WriteString(line)
		got := joined.String()
		if got == cmd || strings.HasSuffix(got, cmd) {
			return got, true
		}
		// No continuation and no match: this candidate start fails.
		return got, false
	}
	return joined.String(), false
}

// splitFirstLine returns the first physical line's content (excluding
// its terminator), the terminator string, and the offset of the next
// line. ok is false if pos is at or past the end of buf.
func splitFirstLine(buf []byte, pos int) (content []byte, terminator string, next int, ok bool) {
	if pos >= len(buf) {
		return nil, "", pos, false
	}
	rel := bytes.IndexByte(buf[pos:], '\n')
	if rel < 0 {
		return buf[pos:], "", len(buf), true
	}
	end := pos + rel
	if end > pos && buf[end-1] == '\r' {
		return buf[pos : end-1], "\r\n", end + 1, true
	}
	return buf[pos:end], "\n", end + 1, true
}

// stripContinuationPrefix removes a shell continuation-prompt prefix
// (">", "+", "quote>", "heredoc>", "ps2>", "?") plus one following
// space, after stripping ANSI sequences.
func stripContinuationPrefix(content []byte) []byte {
	plain := stripANSIBytes(content)
	for _, marker := range []string{"quote>", "heredoc>", "ps2>", ">", "+", "?"} {
		if bytes.HasPrefix(plain, []byte(marker)) {
			rest := plain[len(marker):]
			if len(rest) > 0 && rest[0] == ' ' {
				rest = rest[1:]
			}
			return rest
		}
	}
	return plain
}

// isContinuationLine reports whether a raw physical line (without its
// terminator) should be folded into "input" per the echo-split rules:
// empty, or starting with a continuation prompt after ANSI stripping.
func isContinuationLine(raw []byte) bool {
	plain := bytes.TrimSpace(stripANSIBytes(raw))
	if len(plain) == 0 {
		return true
	}
	for _, marker := range []string{"quote>", "heredoc>", "ps2>", ">", "+", "?"} {
		if bytes.HasPrefix(plain, []byte(marker)) {
			return true
		}
	}
	return false
}

// splitInputOutput implements step 3 (normalize the first echoed line)
// and step 4 (fold continuation lines into input) of the echo isolation
// algorithm, operating on rest = buf[echoStart:].
func splitInputOutput(rest []byte) (input, output string) {
	content, terminator, next, ok := splitFirstLine(rest, 0)
	if !ok {
		return "", ""
	}
	var b strings.Builder
	b.WriteString(buildLogicalLine(content))
	b.WriteString(terminator)

	pos := next
	for pos <= len(rest) {
		lineContent, lineTerm, lineNext, ok := splitFirstLine(rest, pos)
		if !ok {
			break
		}
		if !isContinuationLine(lineContent) {
			break
		}
		b.WriteString(sanitizeRecordField(lineContent))
		b.WriteString(lineTerm)
		pos = lineNext
	}

	return b.String(), sanitizeRecordField(rest[pos:])
}

// buildLogicalLine reconstructs the on-screen content of a single
// physical line of raw bytes: backspace/DEL pop the previous rendered
// byte, ANSI CSI/OSC sequences are skipped, and a bare CR resets the
// line to its start (terminal carriage-return overwrite).
func buildLogicalLine(raw []byte) string {
	out := make([]byte, 0, len(raw))
	i := 0
	for i < len(raw) {
		b := raw[i]
		switch {
		case b == esc:
			if n := ansiSeqLen(raw[i:]); n > 0 {
				i += n
				continue
			}
			i++
		case b == '\b' || b == 0x7f:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			i++
		case b == '\r':
			out = out[:0]
			i++
		default:
			out = append(out, b)
			i++
		}
	}
	return string(out)
}

// ansiSeqLen returns the byte length of an ANSI escape sequence starting
// at s[0]==ESC, or 0 if s doesn't look like one (caller then consumes
// just the ESC byte itself).
func ansiSeqLen(s []byte) int {
	if len(s) == 0 || s[0] != esc {
		return 0
	}
	if len(s) < 2 {
		return 1
	}
	switch s[1] {
	case '[': // CSI
		i := 2
		for i < len(s) && s[i] >= 0x20 && s[i] <= 0x3f {
			i++
		}
		if i < len(s) {
			i++ // final byte
		}
		return i
	case ']', 'P', 'X', '^', '_': // OSC, DCS, SOS, PM, APC
		i := 2
		for i < len(s) {
			if s[i] == bel {
				return i + 1
			}
			if s[i] == esc && i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
			i++
		}
		return len(s)
	default:
		return 2
	}
}

// stripANSIBytes removes ANSI CSI/OSC/simple-escape sequences from raw.
func stripANSIBytes(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	i := 0
	for i < len(raw) {
		if raw[i] == esc {
			if n := ansiSeqLen(raw[i:]); n > 0 {
				i += n
				continue
			}
		}
		out = append(out, raw[i])
		i++
	}
	return out
}

// sanitizeForRecord strips control/escape sequences for ExecutionRecord
// fields only; the broadcast stream is never sanitized this way.
func sanitizeForRecord(raw []byte) string {
	return strings.TrimRight(sanitizeRecordField(raw), " \t\n")
}

// sanitizeRecordField applies the same stripping/normalization as
// sanitizeForRecord but keeps trailing whitespace, for use on the
// matched-echo output and continuation-line fragments that are appended
// to a builder rather than returned whole.
func sanitizeRecordField(raw []byte) string {
	stripped := stripControlSequences(raw)
	normalized := strings.ReplaceAll(string(stripped), "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return normalized
}

// stripControlSequences removes OSC/DCS/CSI/SOS/PM/APC sequences and C0
// control chars other than tab, LF and CR (CR is kept for
// sanitizeRecordField to normalize to LF).
func stripControlSequences(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	i := 0
	for i < len(raw) {
		b := raw[i]
		switch {
		case b == esc:
			if n := ansiSeqLen(raw[i:]); n > 0 {
				i += n
				continue
			}
			i++
		case b < 0x20 && b != '\t' && b != '\n' && b != '\r':
			i++
		case b == 0x7f:
			i++
		default:
			out = append(out, b)
			i++
		}
	}
	return out
}
