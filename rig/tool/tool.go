// Package tool runs the external programs a rig depends on, such as cargo and wasm-bindgen.
package tool

import (
	"context"
	"errors"

	"github.com/swdunlop/zugzug-go/zug/console"
)

// A Runner runs external commands.  Console returns the Runner used outside of tests.
type Runner interface {
	// Run runs the named command to completion, relaying its output.
	Run(ctx context.Context, name string, args ...string) error

	// Eval runs the named command to completion and returns what it wrote to stdout.
	Eval(ctx context.Context, name string, args ...string) (string, error)
}

// Console returns a Runner that uses the zug console from the context, which echoes each command before running it
// and relays stderr if it fails.
func Console() Runner { return consoleRunner{} }

type consoleRunner struct{}

func (consoleRunner) Run(ctx context.Context, name string, args ...string) error {
	return console.Run(ctx, name, args...)
}

func (consoleRunner) Eval(ctx context.Context, name string, args ...string) (string, error) {
	return console.Eval(ctx, name, args...)
}

// ExitCode returns the exit code of the command that caused err, 0 if err is nil, or 1 if err did not come from a
// command that exited with a code, such as *exec.ExitError.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	// *exec.ExitError satisfies this through its embedded *os.ProcessState.
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		if code := coded.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
