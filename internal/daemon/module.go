package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bot"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/config"
	"github.com/usat-ai-lab/taklif/internal/feedback"
	"github.com/usat-ai-lab/taklif/internal/instance"
	"github.com/usat-ai-lab/taklif/internal/journal"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/lock"
	"github.com/usat-ai-lab/taklif/internal/logging"
	"github.com/usat-ai-lab/taklif/internal/metrics"
	"github.com/usat-ai-lab/taklif/internal/outbox"
	"github.com/usat-ai-lab/taklif/internal/reconcile"
	"github.com/usat-ai-lab/taklif/internal/retry"
	"github.com/usat-ai-lab/taklif/internal/status"
	"github.com/usat-ai-lab/taklif/internal/wa"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	ConfigPath string // optional; empty = ~/.taklif/config.toml
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideJournal,
			provideScheduler,
			provideFeedback,
			provideSessions,
			provideAdapter,
			provideOutbox,
			provideDialog,
			provideControl,
			provideMetrics,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func provideLogger(p Params, cfg *config.Config, lc fx.Lifecycle) (*zap.Logger, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	dir := instance.LogDir(p.Instance)
	logger, closeLog, err := logging.New(logging.Options{Dir: dir, Instance: p.Instance, Level: cfg.Log.Level})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	day := 24 * time.Hour
	if n, err := logging.Prune(dir, logging.LogPrefix, time.Duration(cfg.Log.RetentionDays)*day, now); err != nil {
		logger.Warn("log pruning failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned old logs", zap.Int("removed", n))
	}
	if _, err := logging.Prune(dir, logging.ErrorLogPrefix, time.Duration(cfg.Log.ErrorLogRetentionDays)*day, now); err != nil {
		logger.Warn("error log pruning failed", zap.Error(err))
	}
	lc.Append(fx.StopHook(closeLog))
	return logger, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*localstore.Store, error) {
	dir := instance.DataDir(p.Instance, cfg.Store.DataDir)
	s, err := localstore.Open(localstore.Options{
		Dir:             dir,
		BackupRetention: cfg.Store.BackupRetention,
		Lock:            lock.Options{Attempts: cfg.Store.LockAttempts, Delay: cfg.Store.LockDelay.Duration},
		Logger:          logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("local store initialized", zap.String("dir", dir))
	return s, nil
}

func provideBackend(cfg *config.Config, s *localstore.Store, logger *zap.Logger) *backend.Client {
	return backend.New(backend.Options{
		BaseURL:         cfg.Backend.BaseURL,
		AuthBaseURL:     cfg.Backend.AuthBaseURL,
		Timeout:         cfg.Backend.Timeout.Duration,
		AuthTimeout:     cfg.Backend.AuthTimeout.Duration,
		HealthTimeout:   cfg.Backend.HealthTimeout.Duration,
		ServiceUsername: cfg.Backend.ServiceUsername,
		ServicePassword: cfg.Backend.ServicePassword,
		RateLimit:       rate.Limit(cfg.Backend.RateLimitRPS),
		RateBurst:       cfg.Backend.RateBurst,
		Tokens:          s,
		Logger:          logger.Named("backend"),
	})
}

func provideJournal(p Params, cfg *config.Config, logger *zap.Logger, lc fx.Lifecycle) (*journal.DB, error) {
	path := instance.JournalPath(p.Instance)
	db, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("journal migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("journal migrations up to date", zap.Uint("version", result.Version))
	}
	if cfg.Journal.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour)
		passes, err := db.Prune(cutoff)
		if err != nil {
			logger.Warn("journal prune failed", zap.Error(err))
		}
		replies, err := db.PruneReplies(cutoff)
		if err != nil {
			logger.Warn("outbox prune failed", zap.Error(err))
		}
		if passes+replies > 0 {
			logger.Info("journal pruned", zap.Int64("passes", passes), zap.Int64("replies", replies))
		}
	}
	lc.Append(fx.StopHook(db.Close))
	return db, nil
}

func provideScheduler(cfg *config.Config, c *backend.Client, s *localstore.Store, db *journal.DB, m *status.Machine, b *bus.Bus, logger *zap.Logger) *reconcile.Scheduler {
	return reconcile.New(c, s, reconcile.Options{
		Interval:    cfg.Sync.Interval.Duration,
		MaxAttempts: cfg.Sync.MaxAttempts,
		Journal:     db,
		Status:      m,
		Bus:         b,
		Logger:      logger.Named("reconcile"),
	})
}

func provideFeedback(cfg *config.Config, c *backend.Client, s *localstore.Store, b *bus.Bus, logger *zap.Logger) *feedback.Service {
	return feedback.New(c, s, feedback.Options{
		Retry:  retry.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.Delay.Duration},
		Bus:    b,
		Logger: logger.Named("feedback"),
	})
}

func provideSessions(cfg *config.Config, logger *zap.Logger) *bot.Sessions {
	return bot.NewSessions(bot.SessionOptions{
		IdleTimeout:   cfg.Bot.SessionIdleTimeout.Duration,
		ErrorTimeout:  cfg.Bot.SessionErrorTimeout.Duration,
		SweepInterval: cfg.Bot.SessionSweepInterval.Duration,
		Logger:        logger.Named("sessions"),
	})
}

func provideAdapter(p Params, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), instance.ChatSessionDBPath(p.Instance), b, logger.Named("wa"))
}

func provideOutbox(cfg *config.Config, db *journal.DB, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, adapter, outbox.Options{
		Interval:    cfg.Outbox.Interval.Duration,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Bus:         b,
		Logger:      logger.Named("outbox"),
	})
}

func provideDialog(cfg *config.Config, svc *feedback.Service, replies *outbox.Sender, sessions *bot.Sessions, b *bus.Bus, logger *zap.Logger) *bot.Dialog {
	return bot.NewDialog(svc, replies, sessions, bot.Options{
		Limits: bot.Limits{
			MinText:      cfg.Validation.MinMessageLength,
			MaxText:      cfg.Validation.MaxMessageLength,
			MaxName:      cfg.Validation.MaxNameLength,
			MinNameWords: cfg.Validation.MinNameWords,
		},
		Bus:    b,
		Logger: logger.Named("bot"),
	})
}

func provideControl(p Params, m *status.Machine, c *backend.Client, sc *reconcile.Scheduler, s *localstore.Store, db *journal.DB, adapter *wa.Adapter, replies *outbox.Sender, sessions *bot.Sessions, b *bus.Bus) *api.Control {
	return api.NewControl(api.Deps{
		Instance:  p.Instance,
		Machine:   m,
		Backend:   c,
		Scheduler: sc,
		Buffer:    s,
		History:   db,
		Chat:      adapter,
		Outbox:    replies,
		Sessions:  sessions,
		Bus:       b,
	})
}

func provideMetrics(cfg *config.Config, c *backend.Client, logger *zap.Logger) *metrics.Server {
	if cfg.Metrics.Listen == "" {
		return nil
	}
	return metrics.NewServer(cfg.Metrics.Listen, c.Online, logger.Named("metrics"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, c *backend.Client, machine *status.Machine, sc *reconcile.Scheduler, dialog *bot.Dialog, sessions *bot.Sessions, adapter *wa.Adapter, replies *outbox.Sender, ms *metrics.Server, b *bus.Bus, logger *zap.Logger) {
	// Background work outlives the OnStart context, which fx cancels once
	// startup completes.
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Start(ctx); err != nil {
				logger.Warn("backend login failed, submissions will be buffered", zap.Error(err))
			}
			if err := machine.SetReachable(c.Online()); err != nil {
				logger.Debug("status update", zap.Error(err))
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(runCtx); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if ms != nil {
				if err := ms.Start(); err != nil {
					return err
				}
			}

			sessions.Start(runCtx)
			replies.Start(runCtx)
			dialog.Start(runCtx)
			sc.Start(runCtx)

			handler := wa.NewEventHandler(b, adapter, logger.Named("wa"))
			adapter.RegisterEventHandler(handler.Handle)
			if err := adapter.Run(runCtx); err != nil {
				logger.Error("chat transport failed to start", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sc.Stop()
			dialog.Stop()
			replies.Stop()
			sessions.Stop()
			adapter.Disconnect()
			cancel()
			srv.Stop(ctx)
			if ms != nil {
				if err := ms.Stop(ctx); err != nil {
					logger.Warn("metrics server shutdown", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
