//go:build darwin

package prober

import (
	"fmt"
	"os/exec"
	"strings"
)

// DarwinIntrospection backs ProcessIntrospection with lsof/ps, exactly
// as named in spec.md §4.6 (macOS has no /proc).
type DarwinIntrospection struct{}

func (DarwinIntrospection) Args(pid int) ([]string, error) {
	out, err := exec.Command("ps", "-o", "command=", "-p", fmt.Sprintf("%d", pid)).Output()
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(out)), nil
}

func (DarwinIntrospection) Env(pid int) (string, error) {
	out, err := exec.Command("ps", "-E", "-o", "command=", "-p", fmt.Sprintf("%d", pid)).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (DarwinIntrospection) Cwd(pid int) (string, error) {
	out, err := exec.Command("lsof", "-a", "-p", fmt.Sprintf("%d", pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return line[1:], nil
		}
	}
	return "", fmt.Errorf("prober: cwd not found for pid %d", pid)
}

// Default returns the platform's ProcessIntrospection implementation.
func Default() ProcessIntrospection { return DarwinIntrospection{} }
