package health

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Executable returns a [Checker] that passes when path resolves to an
// executable, either directly or through PATH.
func Executable(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s not found: %w", path, err)
			}
			return nil
		},
	}
}

// ErrNotReady is returned by [Ready] checkers while the probed component has
// not signalled readiness.
var ErrNotReady = errors.New("not ready")

// Ready returns a [Checker] backed by a readiness predicate, such as a
// gateway connection flag.
func Ready(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ready() {
				return ErrNotReady
			}
			return nil
		},
	}
}
