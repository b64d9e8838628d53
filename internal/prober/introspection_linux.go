//go:build linux

package prober

import (
	"fmt"
	"os"
	"strings"
)

// LinuxIntrospection backs ProcessIntrospection with /proc, exactly as
// named in spec.md §4.6.
type LinuxIntrospection struct{}

func (LinuxIntrospection) Args(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	var args []string
	for _, p := range parts {
		if p != "" {
			args = append(args, p)
		}
	}
	return args, nil
}

func (LinuxIntrospection) Env(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (LinuxIntrospection) Cwd(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
}

// Default returns the platform's ProcessIntrospection implementation.
func Default() ProcessIntrospection { return LinuxIntrospection{} }
