// Package prober implements the Foreground Prober (spec.md §4.6): a
// per-session periodic task that discovers the deepest descendant of
// a pty leader and reads its command/env/cwd through the platform's
// ProcessIntrospection capability (spec.md §9 REDESIGN FLAGS).
package prober

import "github.com/mitchellh/go-ps"

// ProcessIntrospection is the platform capability backing the prober:
// reading args/environ/cwd for a pid via OS-specific facilities (§4.6:
// /proc on Linux, lsof/ps on macOS).
type ProcessIntrospection interface {
	Args(pid int) ([]string, error)
	Env(pid int) (string, error)
	Cwd(pid int) (string, error)
}

// DeepestDescendant walks the process tree rooted at pid, repeatedly
// picking the child with the largest pid at each step, per spec.md
// §4.6. It returns false if pid has no children (the session's shell
// is the foreground process).
func DeepestDescendant(pid int) (int, bool) {
	procs, err := ps.Processes()
	if err != nil {
		return 0, false
	}

	children := make(map[int][]int)
	for _, p := range procs {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}

	current := pid
	found := false
	for {
		kids := children[current]
		if len(kids) == 0 {
			break
		}
		next := kids[0]
		for _, k := range kids[1:] {
			if k > next {
				next = k
			}
		}
		current = next
		found = true
	}
	return current, found
}
