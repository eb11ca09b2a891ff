package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/jot/internal/api"
	"github.com/matheus3301/jot/internal/config"
	"github.com/matheus3301/jot/internal/lock"
	"github.com/matheus3301/jot/internal/logging"
	"github.com/matheus3301/jot/internal/profile"
	"github.com/matheus3301/jot/internal/remotedb"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved jotd configuration passed to the fx module.
type Params struct {
	// Config is the loaded config file.
	Config *config.Config
	// Listen, AdminListen and DBPath override the config when set.
	Listen      string
	AdminListen string
	DBPath      string
	// LogPath overrides the default log file, mainly for tests.
	LogPath string
	Console bool
}

// Module returns the fx module for jotd, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideRecords,
			provideRemoteStoreService,
			provideAdmin,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func (p Params) dbPath() string {
	if p.DBPath != "" {
		return p.DBPath
	}
	if p.Config != nil && p.Config.Server.DBPath != "" {
		return p.Config.Server.DBPath
	}
	return profile.ServerDBPath()
}

func (p Params) listen() string {
	if p.Listen != "" {
		return p.Listen
	}
	if p.Config != nil && p.Config.Server.Listen != "" {
		return p.Config.Server.Listen
	}
	return config.Default().Server.Listen
}

func (p Params) adminListen() string {
	if p.AdminListen != "" {
		return p.AdminListen
	}
	if p.Config != nil {
		return p.Config.Server.AdminListen
	}
	return ""
}

func provideLogger(p Params) (*zap.Logger, error) {
	path := p.LogPath
	if path == "" {
		path = profile.ServerLogPath()
	}
	return logging.New(logging.Options{Path: path, Component: "jotd", Console: p.Console})
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	dir := filepath.Dir(p.dbPath())
	logger.Info("acquiring server lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("server lock acquired")
	return l, nil
}

// provideRecords depends on the lock so the database is never opened by two
// servers.
func provideRecords(p Params, _ *lock.Lock, logger *zap.Logger) (*remotedb.DB, error) {
	path := p.dbPath()
	db, result, err := remotedb.Open(path)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("record store initialized", zap.String("path", path))
	return db, nil
}

func provideRemoteStoreService(db *remotedb.DB, logger *zap.Logger) *api.RemoteStoreService {
	return api.NewRemoteStoreService(db, logger)
}

func provideAdmin(db *remotedb.DB, logger *zap.Logger) *api.Admin {
	return api.NewAdmin(db, db.Ping, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, db *remotedb.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := srv.StartAdmin(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing record store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("jotd stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
