// Package shellintegration synthesizes per-shell rc files that inject
// tabminal's pre-exec/post-exec/prompt hooks, implementing the
// ShellIntegration capability with bash, zsh, and none variants.
package shellintegration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies which shell family an Installer targets.
type Kind string

const (
	Bash Kind = "bash"
	Zsh  Kind = "zsh"
	None Kind = "none"
)

// DetectKind maps a shell executable's basename to a Kind.
func DetectKind(shellPath string) Kind {
	switch filepath.Base(shellPath) {
	case "bash":
		return Bash
	case "zsh":
		return Zsh
	default:
		return None
	}
}

// Installation is the result of installing shell integration: the rc
// path to pass as the shell's startup file, and a cleanup func to run
// on session exit.
type Installation struct {
	RCPath  string
	Cleanup func()
}

// Install writes a temp rc file for the given shell kind and session id.
// For None it returns a zero Installation (rc="", cleanup is a no-op):
// callers must spawn the shell without rc injection, and execution
// records will be unavailable for that session.
func Install(kind Kind, sessionID, userRC string) (Installation, error) {
	switch kind {
	case Bash:
		return installBash(sessionID, userRC)
	case Zsh:
		return installZsh(sessionID, userRC)
	default:
		return Installation{Cleanup: func() {}}, nil
	}
}

func installBash(sessionID, userRC string) (Installation, error) {
	path, err := tempRCPath(sessionID, "bashrc")
	if err != nil {
		return Installation{}, err
	}

	var b strings.Builder
	if userRC != "" {
		fmt.Fprintf(&b, "[ -f %q ] && source %q\n\n", userRC, userRC)
	} else {
		b.WriteString("[ -f /etc/bash.bashrc ] && source /etc/bash.bashrc\n")
		b.WriteString("[ -f \"$HOME/.bashrc\" ] && source \"$HOME/.bashrc\"\n\n")
	}

	fmt.Fprintf(&b, `__tabminal_preexec() {
  case "$BASH_COMMAND" in
    __tabminal_*) return ;;
  esac
  if [ -z "$__tabminal_in_prompt" ]; then
    __tabminal_cmd="$BASH_COMMAND"
  fi
}
trap '__tabminal_preexec' DEBUG

__tabminal_precmd() {
  local ec=$?
  if [ -n "$__tabminal_cmd" ]; then
    local b64
    b64=$(printf '%%s' "$__tabminal_cmd" | base64 | tr -d '\n')
    printf '\033]1337;ExitCode=%%s;CommandB64=%%s\007' "$ec" "$b64"
    __tabminal_cmd=""
  fi
}
case "$PROMPT_COMMAND" in
  *__tabminal_precmd*) ;;
  *) PROMPT_COMMAND="__tabminal_precmd${PROMPT_COMMAND:+; }$PROMPT_COMMAND" ;;
esac

case "$PS1" in
  *%s*) ;;
  *) PS1="${PS1}%s" ;;
esac
`, promptMarker(), promptMarker())

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return Installation{}, fmt.Errorf("shellintegration: write bashrc: %w", err)
	}

	return Installation{RCPath: path, Cleanup: func() { os.Remove(path) }}, nil
}

// installZsh writes its rc into a fresh per-session temp directory
// named ".zshrc", since zsh (unlike bash) has no --rcfile flag: the
// caller spawns zsh with ZDOTDIR set to filepath.Dir(Installation.RCPath)
// so the interactive shell picks it up on startup.
func installZsh(sessionID, userRC string) (Installation, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("tabminal-%s-zsh-*", sessionID))
	if err != nil {
		return Installation{}, fmt.Errorf("shellintegration: create zsh zdotdir: %w", err)
	}
	path := filepath.Join(dir, ".zshrc")

	var b strings.Builder
	if userRC != "" {
		fmt.Fprintf(&b, "[ -f %q ] && source %q\n\n", userRC, userRC)
	} else {
		// The caller spawns zsh with ZDOTDIR pointed at dir (above) so
		// this generated file is picked up as the session's .zshrc.
		// Resolve the user's real rc path now, before that override
		// takes effect, and bake it in literally: re-deriving it from
		// $ZDOTDIR at shell startup would resolve to this same file and
		// source it into itself.
		target := realZshrc()
		fmt.Fprintf(&b, "[ -f %q ] && source %q\n\n", target, target)
	}

	fmt.Fprintf(&b, `__tabminal_preexec() {
  __tabminal_cmd="$1"
}
preexec_functions+=(__tabminal_preexec)

__tabminal_precmd() {
  local ec=$?
  if [ -n "$__tabminal_cmd" ]; then
    local b64
    b64=$(printf '%%s' "$__tabminal_cmd" | base64 | tr -d '\n')
    printf '\033]1337;ExitCode=%%s;CommandB64=%%s\007' "$ec" "$b64"
    __tabminal_cmd=""
  fi
}
precmd_functions+=(__tabminal_precmd)

case "$PROMPT" in
  *%s*) ;;
  *) PROMPT="${PROMPT}%s" ;;
esac
`, promptMarker(), promptMarker())

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return Installation{}, fmt.Errorf("shellintegration: write zshrc: %w", err)
	}

	return Installation{RCPath: path, Cleanup: func() { os.RemoveAll(dir) }}, nil
}

// realZshrc returns the absolute path to the user's actual .zshrc,
// resolved from the installing process's own environment (before the
// spawned child's ZDOTDIR is overridden to point at the generated rc).
func realZshrc() string {
	dir := os.Getenv("ZDOTDIR")
	if dir == "" {
		dir = os.Getenv("HOME")
	}
	return filepath.Join(dir, ".zshrc")
}

// tempRCPath returns a temp file path under the OS temp dir whose name
// contains the session id, per the rc-file naming requirement.
func tempRCPath(sessionID, suffix string) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("tabminal-%s-*.%s", sessionID, suffix))
	if err != nil {
		return "", fmt.Errorf("shellintegration: create temp rc: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func promptMarker() string { return "\\033]1337;TabminalPrompt\\007" }
