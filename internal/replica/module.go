package replica

import (
	"context"

	"github.com/matheus3301/jot/internal/backends"
	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/config"
	"github.com/matheus3301/jot/internal/local"
	"github.com/matheus3301/jot/internal/lock"
	"github.com/matheus3301/jot/internal/logging"
	"github.com/matheus3301/jot/internal/outbox"
	"github.com/matheus3301/jot/internal/profile"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
	// ConfigPath is watched for changes when Watch is set.
	ConfigPath string
	Watch      bool
	// AutoSync runs periodic cycles while a user is signed in.
	AutoSync bool
	Console  bool
	Debug    bool
}

// Module returns the fx module for one profile's replica.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("replica",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBackend,
			provideReplica,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(logging.Options{
		Path:      profile.LogPath(p.Profile),
		Component: "jotctl",
		Profile:   p.Profile,
		Console:   p.Console,
		Level:     level,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Debug("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so one replica database has one writer.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	path := profile.DBPath(p.Profile)
	db, err := store.Open(path)
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
	}
	logger.Debug("replica store initialized", zap.String("path", path))
	return db, nil
}

func provideBackend(p Params, logger *zap.Logger) (backends.Backend, error) {
	return backends.Open(context.Background(), p.Config.Remote, logger.Named("backend"))
}

func provideReplica(p Params, db *store.DB, backend backends.Backend, b *bus.Bus, logger *zap.Logger) *Replica {
	ls := local.New(db)
	return New(Options{
		Local:    ls,
		Queue:    outbox.New(ls, logger.Named("queue")),
		Remote:   remote.NewAdapter(backend, backends.AdapterOptions(p.Config), logger.Named("remote")),
		Bus:      b,
		Logger:   logger,
		Interval: p.Config.Sync.Interval(),
		AutoSync: p.AutoSync,
	})
}

func registerLifecycle(lc fx.Lifecycle, p Params, r *Replica, db *store.DB, backend backends.Backend, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	watchCtx, stopWatch := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := r.Open(ctx); err != nil {
				return err
			}
			if !p.Watch || p.ConfigPath == "" {
				return nil
			}
			return config.Watch(watchCtx, p.ConfigPath, logger, func(cfg *config.Config) {
				r.Orchestrator().SetInterval(cfg.Sync.Interval())
				if cfg.Remote != p.Config.Remote {
					logger.Warn("remote settings changed; restart to apply")
				}
				b.Emit(bus.ConfigReloaded, cfg)
			})
		},
		OnStop: func(_ context.Context) error {
			stopWatch()
			r.Close()
			if err := backend.Close(); err != nil {
				logger.Warn("error closing backend", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
