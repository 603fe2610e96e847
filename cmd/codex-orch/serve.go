package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/codex-orchestrator/internal/config"
	"github.com/hochfrequenz/codex-orchestrator/internal/events"
	"github.com/hochfrequenz/codex-orchestrator/internal/executor"
	"github.com/hochfrequenz/codex-orchestrator/internal/gitexec"
	"github.com/hochfrequenz/codex-orchestrator/internal/image"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/logstream"
	"github.com/hochfrequenz/codex-orchestrator/internal/maintenance"
	"github.com/hochfrequenz/codex-orchestrator/internal/mirror"
	"github.com/hochfrequenz/codex-orchestrator/internal/notify"
	"github.com/hochfrequenz/codex-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/codex-orchestrator/internal/worktree"
	"github.com/hochfrequenz/codex-orchestrator/web/api"
)

const shutdownTimeout = 30 * time.Second

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, closers, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	if n, err := orch.Reconcile(ctx); err != nil {
		log.Warn("reconcile failed", zap.Error(err))
	} else if n > 0 {
		log.Info("reconciled orphaned tasks", zap.Int("count", n))
	}

	sched, err := maintenance.FromConfig(cfg.Maintenance.RefreshCron, orch, log)
	if err != nil {
		return fmt.Errorf("maintenance.refresh_cron: %w", err)
	}

	server := api.NewServer(orch, cfg.Addr(), log)
	fmt.Printf("Starting API at http://%s\n", cfg.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if sched != nil {
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", zap.Error(err))
		}
		return orch.Close(shutdownCtx)
	})
	return g.Wait()
}

// buildOrchestrator wires every collaborator from config. The returned
// closers release the publishers and the docker client.
func buildOrchestrator(cfg *config.Config, log *logger.Logger) (*orchestrator.Orchestrator, []func(), error) {
	layout := storage.NewLayout(cfg.General.Home)
	if err := os.MkdirAll(layout.TasksDir(), 0o755); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(layout.EnvsDir(), 0o755); err != nil {
		return nil, nil, err
	}

	store, err := taskstore.Open(cfg.Store.Backend, layout, cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	var closers []func()
	pub := events.Multi{events.Logging{Log: log}}
	if cfg.Events.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log)
		if err != nil {
			log.Warn("nats unavailable, events stay local", zap.Error(err))
		} else {
			pub = append(pub, np)
			closers = append(closers, func() { _ = np.Close() })
		}
	}
	if n := notify.FromSettings(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook); n != nil {
		pub = append(pub, events.NotifierSink{Notifier: n, Log: log})
	}

	var images orchestrator.ImageService
	if cfg.Agent.Image != "" {
		mgr, err := image.NewManager(cfg.Agent.Image, log)
		if err != nil {
			log.Warn("docker unavailable, image endpoints disabled", zap.Error(err))
		} else {
			images = mgr
			closers = append(closers, func() { _ = mgr.Close() })
		}
	}

	git := gitexec.NewExecRunner(cfg.Git.Binary, log)
	sup := executor.New(executor.Options{
		Store:  store,
		Layout: layout,
		Command: executor.CommandBuilder{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
		},
		StopGrace: cfg.Agent.StopGrace.Std(),
		Publisher: pub,
		Logger:    log,
	})

	orch := orchestrator.New(orchestrator.Options{
		Layout:     layout,
		Store:      store,
		Mirrors:    mirror.NewManager(layout, git, log),
		Worktrees:  worktree.NewProvisioner(git, log),
		Supervisor: sup,
		Tailer:     logstream.NewTailer(cfg.Logs.PollInterval.Std(), cfg.Logs.Notify, log),
		Images:     images,
		Publisher:  pub,
		Logger:     log,
		TailLines:  cfg.Logs.TailLines,
	})
	return orch, closers, nil
}
