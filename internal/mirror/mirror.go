// Package mirror maintains one bare clone per registered repository.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/gitexec"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
)

// FetchRefspec maps every remote branch to a remote-tracking ref in the mirror.
const FetchRefspec = "+refs/heads/*:refs/remotes/origin/*"

var shaPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// Manager creates, lists and removes environments under <home>/envs.
type Manager struct {
	layout storage.Layout
	git    gitexec.Runner
	log    *logger.Logger
}

// NewManager creates a Manager.
func NewManager(layout storage.Layout, git gitexec.Runner, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{layout: layout, git: git, log: log.WithComponent("mirror")}
}

// Create clones repoURL into a fresh environment and verifies defaultBranch exists.
// Any failure removes the environment directory again.
func (m *Manager) Create(ctx context.Context, repoURL, defaultBranch string) (*domain.Environment, error) {
	repoURL = strings.TrimSpace(repoURL)
	defaultBranch = strings.TrimSpace(defaultBranch)
	if repoURL == "" {
		return nil, fmt.Errorf("%w: repoUrl is required", domain.ErrInvalidArgument)
	}
	if defaultBranch == "" {
		return nil, fmt.Errorf("%w: defaultBranch is required", domain.ErrInvalidArgument)
	}

	env := &domain.Environment{
		EnvID:         uuid.NewString(),
		RepoURL:       repoURL,
		DefaultBranch: defaultBranch,
	}
	env.MirrorPath = m.layout.MirrorDir(env.EnvID)
	log := m.log.WithEnvID(env.EnvID)

	envDir := m.layout.EnvDir(env.EnvID)
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return nil, fmt.Errorf("create env dir: %w", err)
	}

	if err := m.initMirror(ctx, env); err != nil {
		if rmErr := os.RemoveAll(envDir); rmErr != nil {
			log.Warn("rollback failed", zap.Error(rmErr))
		}
		return nil, err
	}

	log.Info("environment created", zap.String("repo_url", repoURL), zap.String("default_branch", defaultBranch))
	return env, nil
}

func (m *Manager) initMirror(ctx context.Context, env *domain.Environment) error {
	if _, err := m.git.Run(ctx, "clone", "--bare", env.RepoURL, env.MirrorPath); err != nil {
		return fmt.Errorf("clone %s: %w", env.RepoURL, err)
	}
	if _, err := m.git.Run(ctx, "--git-dir", env.MirrorPath, "config", "remote.origin.fetch", FetchRefspec); err != nil {
		return fmt.Errorf("configure mirror: %w", err)
	}
	if err := m.Fetch(ctx, env); err != nil {
		return err
	}

	if _, ok := m.firstExisting(ctx, env.MirrorPath,
		"refs/heads/"+env.DefaultBranch,
		"refs/remotes/origin/"+env.DefaultBranch,
		"refs/tags/"+env.DefaultBranch,
	); !ok {
		return &domain.RefNotFoundError{Ref: env.DefaultBranch}
	}

	// side files last: List only sees fully initialised environments
	if err := storage.WriteText(m.layout.RepoURLFile(env.EnvID), env.RepoURL); err != nil {
		return err
	}
	return storage.WriteText(m.layout.DefaultBranchFile(env.EnvID), env.DefaultBranch)
}

// List returns all readable environments; unreadable directories are skipped.
func (m *Manager) List(ctx context.Context) ([]*domain.Environment, error) {
	ids, err := storage.ListDirs(m.layout.EnvsDir())
	if err != nil {
		return nil, err
	}
	envs := make([]*domain.Environment, 0, len(ids))
	for _, id := range ids {
		env, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Get reads one environment from its side files.
func (m *Manager) Get(_ context.Context, envID string) (*domain.Environment, error) {
	repoURL, err := storage.ReadText(m.layout.RepoURLFile(envID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrEnvironmentNotFound, envID)
		}
		return nil, err
	}
	branch, err := storage.ReadText(m.layout.DefaultBranchFile(envID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrEnvironmentNotFound, envID)
		}
		return nil, err
	}
	return &domain.Environment{
		EnvID:         envID,
		RepoURL:       repoURL,
		DefaultBranch: branch,
		MirrorPath:    m.layout.MirrorDir(envID),
	}, nil
}

// Remove deletes the environment directory including the mirror.
// Tasks referencing the mirror must be deleted first.
func (m *Manager) Remove(ctx context.Context, envID string) error {
	if _, err := m.Get(ctx, envID); err != nil {
		return err
	}
	if err := os.RemoveAll(m.layout.EnvDir(envID)); err != nil {
		return fmt.Errorf("remove env dir: %w", err)
	}
	m.log.WithEnvID(envID).Info("environment deleted")
	return nil
}

// Fetch updates all remote-tracking refs of the mirror.
func (m *Manager) Fetch(ctx context.Context, env *domain.Environment) error {
	if _, err := m.git.Run(ctx, "--git-dir", env.MirrorPath, "fetch", "origin", "--prune", FetchRefspec); err != nil {
		return fmt.Errorf("fetch %s: %w", env.EnvID, err)
	}
	return nil
}

// ResolveRef turns a user supplied ref into something worktree add accepts.
// An empty ref means the environment's default branch.
//
// Fully qualified refs and commit hashes pass through, origin/<x> becomes
// refs/remotes/origin/<x>. A bare name resolves to a tag if one exists, else
// to the remote-tracking branch, which is assumed even when it cannot be
// verified; a bogus name then fails when the worktree is added.
func (m *Manager) ResolveRef(ctx context.Context, env *domain.Environment, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = env.DefaultBranch
	}

	switch {
	case strings.HasPrefix(ref, "refs/"):
		return ref
	case strings.HasPrefix(ref, "origin/"):
		return "refs/remotes/" + ref
	case shaPattern.MatchString(ref):
		return ref
	}

	if found, ok := m.firstExisting(ctx, env.MirrorPath, "refs/tags/"+ref, "refs/remotes/origin/"+ref); ok {
		return found
	}
	return "refs/remotes/origin/" + ref
}

// RefExists reports whether a fully qualified ref exists in the mirror.
func (m *Manager) RefExists(ctx context.Context, mirrorPath, ref string) bool {
	_, err := m.git.Run(ctx, "--git-dir", mirrorPath, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

func (m *Manager) firstExisting(ctx context.Context, mirrorPath string, candidates ...string) (string, bool) {
	for _, ref := range candidates {
		if m.RefExists(ctx, mirrorPath, ref) {
			return ref, true
		}
	}
	return "", false
}
