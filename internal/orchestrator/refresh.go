package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// refreshConcurrency bounds parallel fetches during a refresh
const refreshConcurrency = 4

// RefreshMirrors fetches every environment mirror and prunes worktree
// registrations whose directories have disappeared. All environments are
// attempted; the first error is returned.
func (o *Orchestrator) RefreshMirrors(ctx context.Context) error {
	envs, err := o.mirrors.List(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for _, env := range envs {
		g.Go(func() error {
			log := o.log.WithEnvID(env.EnvID)
			if err := o.mirrors.Fetch(ctx, env); err != nil {
				log.Warn("refresh mirror", zap.Error(err))
				return fmt.Errorf("env %s: %w", env.EnvID, err)
			}
			if err := o.worktrees.Prune(ctx, env.MirrorPath); err != nil {
				log.Warn("prune worktrees", zap.Error(err))
				return fmt.Errorf("env %s: %w", env.EnvID, err)
			}
			log.Debug("mirror refreshed")
			return nil
		})
	}
	return g.Wait()
}
