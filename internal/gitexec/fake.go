package gitexec

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records invocations and answers from a handler; for tests of callers
type FakeRunner struct {
	mu      sync.Mutex
	Calls   [][]string
	Handler func(args []string) (Result, error)
}

func (f *FakeRunner) Run(_ context.Context, args ...string) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string(nil), args...))
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return Result{}, nil
	}
	return h(args)
}

// Invoked reports whether any recorded call contains all the given arguments in order
func (f *FakeRunner) Invoked(args ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := strings.Join(args, "\x00")
	for _, c := range f.Calls {
		if strings.Contains(strings.Join(c, "\x00"), want) {
			return true
		}
	}
	return false
}

// Fail builds a CommandError result the way ExecRunner would
func Fail(args []string, exitCode int, stderr string) (Result, error) {
	res := Result{Stderr: stderr, ExitCode: exitCode}
	return res, &CommandError{Args: args, ExitCode: exitCode, Output: Message(args, res)}
}
