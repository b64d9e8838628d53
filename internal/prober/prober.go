package prober

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// DefaultInterval is the periodic probe interval named in spec.md §4.6
// ("≈ every 2 s").
const DefaultInterval = 2 * time.Second

// Target is the subset of session.Session the Prober depends on.
type Target interface {
	PID() int
	Shell() string
	SetProbedMeta(title, cwd, env string)
}

// Prober runs a periodic task per session, discovering the deepest
// descendant of the pty leader and updating title/cwd/env metadata.
// Probe failures are swallowed — the prober must never crash the
// session (spec.md §7).
type Prober struct {
	target  Target
	intro   ProcessIntrospection
	logger  *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
}

// Start begins probing target every interval (DefaultInterval if zero)
// until the returned Prober is Stopped.
func Start(target Target, intro ProcessIntrospection, logger *slog.Logger, interval time.Duration) *Prober {
	if intro == nil {
		intro = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{target: target, intro: intro, logger: logger, interval: interval, cancel: cancel}
	go p.run(ctx)
	return p
}

// Stop halts the periodic task.
func (p *Prober) Stop() {
	p.cancel()
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Prober) tick() {
	defer func() {
		// A probe failure (including a panic from a flaky platform
		// command) must never crash the session.
		_ = recover()
	}()

	leaderPID := p.target.PID()
	pid, ok := DeepestDescendant(leaderPID)
	if !ok {
		title := filepath.Base(p.target.Shell())
		p.target.SetProbedMeta(title, "", "")
		return
	}

	title := ""
	if args, err := p.intro.Args(pid); err == nil && len(args) > 0 {
		title = filepath.Base(args[0])
		if len(args) > 1 {
			title = title + " " + strings.Join(args[1:], " ")
		}
	}

	cwd := ""
	if c, err := p.intro.Cwd(pid); err == nil {
		cwd = c
	}

	env := ""
	if e, err := p.intro.Env(pid); err == nil {
		env = e
	}

	p.target.SetProbedMeta(title, cwd, env)
}
