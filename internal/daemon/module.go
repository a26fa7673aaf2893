package daemon

import (
	"context"
	"fmt"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/api"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/config"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/lock"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/logging"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/presence"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/profile"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/receipts"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	intsync "github.com/Khushal-Kathad/Thryve-sub001/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.thryve/config.toml
	Debug       bool
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
			provideRemote,
			provideMonitor,
			provideQueue,
			provideDeliverer,
			provideComposer,
			provideReconciler,
			provideSyncEngine,
			providePresence,
			provideReceipts,
			provideMessageService,
			provideSignalService,
			provideStatusService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.QueueDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) *remote.Client {
	return remote.New(cfg.Remote.BaseURL,
		remote.WithToken(cfg.Remote.Token),
		remote.WithTimeout(cfg.Remote.Timeout.Duration),
		remote.WithLogger(logger.Named("remote")),
	)
}

func provideMonitor(rc *remote.Client, m *status.Machine, cfg *config.Config, logger *zap.Logger) *status.Monitor {
	return status.NewMonitor(rc, m, cfg.Remote.CheckInterval.Duration, logger)
}

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Queue {
	return outbox.NewQueue(db, b, logger)
}

func provideDeliverer(rc *remote.Client, cfg *config.Config, logger *zap.Logger) (*outbox.Deliverer, error) {
	policy, err := outbox.ParseUploadPolicy(cfg.Sync.UploadFailure)
	if err != nil {
		return nil, fmt.Errorf("sync.upload_failure: %w", err)
	}
	return outbox.NewDeliverer(rc, rc, policy, cfg.Sync.UploadFolder, logger), nil
}

func provideComposer(q *outbox.Queue, d *outbox.Deliverer, m *status.Machine, b *bus.Bus, logger *zap.Logger) *outbox.Composer {
	return outbox.NewComposer(q, d, m, b, logger)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideSyncEngine(q *outbox.Queue, d *outbox.Deliverer, m *status.Machine, b *bus.Bus, r *intsync.Reconciler, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(q, d, m, b, r, intsync.Options{
		MaxRetries: cfg.Sync.MaxRetries,
		Interval:   cfg.Sync.Interval.Duration,
	}, logger)
}

func providePresence(rc *remote.Client, cfg *config.Config, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(rc, presence.Options{
		Throttle: cfg.Typing.Throttle.Duration,
		Expiry:   cfg.Typing.Expiry.Duration,
	}, logger)
}

func provideReceipts(rc *remote.Client, cfg *config.Config, logger *zap.Logger) *receipts.Tracker {
	return receipts.NewTracker(rc, receipts.Options{
		MaxWatchedRooms: cfg.Receipts.MaxWatchedRooms,
	}, logger)
}

func provideMessageService(p Params, c *outbox.Composer, q *outbox.Queue, e *intsync.Engine, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(c, q, e, m, b, p.ProfileName, logger)
}

func provideSignalService(pt *presence.Tracker, rt *receipts.Tracker) *api.SignalService {
	return api.NewSignalService(pt, rt)
}

func provideStatusService(p Params, m *status.Machine, q *outbox.Queue, e *intsync.Engine, r *intsync.Reconciler, logger *zap.Logger) *api.StatusService {
	return api.NewStatusService(m, q, e, r, p.ProfileName, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	monitor *status.Monitor,
	engine *intsync.Engine,
	pt *presence.Tracker,
	rt *receipts.Tracker,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.OnComplete(func(res intsync.Result) {
				logger.Debug("drain callback", zap.Int("synced", res.Synced), zap.Int("failed", res.Failed))
			})
			// The engine subscribes to network changes before the first check.
			engine.Start(context.Background())
			monitor.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			monitor.Stop()
			engine.Stop()
			pt.Close()
			rt.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
