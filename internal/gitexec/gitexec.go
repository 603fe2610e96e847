// Package gitexec runs the git CLI and turns failures into typed errors.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// Result is the captured outcome of one git invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes git with an argument vector
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// CommandError is returned for any git invocation that did not exit 0
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %s", subcommand(e.Args), e.Output)
}

func (e *CommandError) Unwrap() error { return domain.ErrGitCommandFailed }

// Mentions reports whether the captured output contains any of the fragments, case-insensitively
func (e *CommandError) Mentions(fragments ...string) bool {
	out := strings.ToLower(e.Output)
	for _, f := range fragments {
		if strings.Contains(out, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// ExecRunner runs the real git binary
type ExecRunner struct {
	binary string
	log    *logger.Logger
}

// NewExecRunner creates a runner for the given git binary ("git" when empty)
func NewExecRunner(binary string, log *logger.Logger) *ExecRunner {
	if binary == "" {
		binary = "git"
	}
	if log == nil {
		log = logger.Default()
	}
	return &ExecRunner{binary: binary, log: log.WithComponent("git")}
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, r.binary, args...)
	// never prompt for credentials, and keep messages parseable
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
		cerr := &CommandError{Args: args, ExitCode: res.ExitCode, Output: Message(args, res)}
		r.log.Debug("git failed",
			zap.Strings("args", args),
			zap.Int("exit_code", res.ExitCode),
			zap.String("output", cerr.Output),
			zap.Duration("elapsed", time.Since(start)))
		return res, cerr
	}

	r.log.Debug("git ok", zap.Strings("args", args), zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Message picks the diagnostic text for a failed invocation: stderr, else stdout, else a generic line
func Message(args []string, res Result) string {
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("git %s failed", subcommand(args))
}

// subcommand skips global options like --git-dir X and -C X
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-C" || args[i] == "--git-dir" || args[i] == "-c":
			i++
		case strings.HasPrefix(args[i], "-"):
		default:
			return args[i]
		}
	}
	return ""
}
