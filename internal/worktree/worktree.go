// Package worktree provisions and tears down per-task git worktrees off a mirror.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/gitexec"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
)

// BranchPrefix namespaces task branches so agent commits never land on tracked branches
const BranchPrefix = "codex/"

// BranchName returns the task-local branch name
func BranchName(taskID string) string {
	return BranchPrefix + taskID
}

// Provisioner handles git worktree operations against environment mirrors
type Provisioner struct {
	git gitexec.Runner
	log *logger.Logger
}

// NewProvisioner creates a Provisioner
func NewProvisioner(git gitexec.Runner, log *logger.Logger) *Provisioner {
	if log == nil {
		log = logger.Default()
	}
	return &Provisioner{git: git, log: log.WithComponent("worktree")}
}

// Provision adds a detached worktree at ref and checks out branch inside it.
func (p *Provisioner) Provision(ctx context.Context, mirrorPath, wtPath, ref, branch string) error {
	if _, err := p.git.Run(ctx, "--git-dir", mirrorPath, "worktree", "add", "--detach", wtPath, ref); err != nil {
		return fmt.Errorf("git worktree add: %w", err)
	}
	if _, err := p.git.Run(ctx, "-C", wtPath, "checkout", "-b", branch); err != nil {
		if rmErr := p.Remove(context.WithoutCancel(ctx), mirrorPath, wtPath, ""); rmErr != nil {
			p.log.Warn("cleanup after failed checkout", zap.String("path", wtPath), zap.Error(rmErr))
		}
		return fmt.Errorf("git checkout -b %s: %w", branch, err)
	}
	p.log.Debug("worktree provisioned", zap.String("path", wtPath), zap.String("ref", ref), zap.String("branch", branch))
	return nil
}

// Remove unregisters and deletes a worktree, then deletes its branch when given.
// Already removed worktrees, directories or mirrors are not an error.
func (p *Provisioner) Remove(ctx context.Context, mirrorPath, wtPath, branch string) error {
	mirrorOK := mirrorPath != "" && storage.Exists(mirrorPath)

	if mirrorOK {
		if _, err := p.git.Run(ctx, "--git-dir", mirrorPath, "worktree", "remove", "--force", wtPath); err != nil && !alreadyGone(err) {
			return fmt.Errorf("git worktree remove: %w", err)
		}
	}

	if err := os.RemoveAll(wtPath); err != nil {
		return fmt.Errorf("remove worktree dir: %w", err)
	}

	if !mirrorOK {
		return nil
	}
	if err := p.Prune(ctx, mirrorPath); err != nil {
		return err
	}
	if branch != "" {
		if _, err := p.git.Run(ctx, "--git-dir", mirrorPath, "branch", "-D", branch); err != nil {
			p.log.Debug("branch delete skipped", zap.String("branch", branch), zap.Error(err))
		}
	}
	return nil
}

// Prune drops registrations of worktrees whose directories are gone.
func (p *Provisioner) Prune(ctx context.Context, mirrorPath string) error {
	if _, err := p.git.Run(ctx, "--git-dir", mirrorPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("git worktree prune: %w", err)
	}
	return nil
}

// Push publishes the task branch to the mirror's origin.
func (p *Provisioner) Push(ctx context.Context, wtPath, branch string) error {
	if _, err := p.git.Run(ctx, "-C", wtPath, "-c", "remote.origin.mirror=false", "push", "origin", branch); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	p.log.Info("branch pushed", zap.String("branch", branch))
	return nil
}

func alreadyGone(err error) bool {
	var cerr *gitexec.CommandError
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.Mentions("not a working tree", "does not exist", "no such file or directory", "not a git repository")
}
