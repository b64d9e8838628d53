//go:build !linux && !darwin

package prober

import "fmt"

// unsupportedIntrospection is used on platforms with neither /proc nor
// lsof/ps; every call fails and is swallowed by the caller per §7.
type unsupportedIntrospection struct{}

func (unsupportedIntrospection) Args(pid int) ([]string, error) {
	return nil, fmt.Errorf("prober: process introspection unsupported on this platform")
}

func (unsupportedIntrospection) Env(pid int) (string, error) {
	return "", fmt.Errorf("prober: process introspection unsupported on this platform")
}

func (unsupportedIntrospection) Cwd(pid int) (string, error) {
	return "", fmt.Errorf("prober: process introspection unsupported on this platform")
}

// Default returns the platform's ProcessIntrospection implementation.
func Default() ProcessIntrospection { return unsupportedIntrospection{} }
