// Package backends builds the remote.Backend selected by configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/matheus3301/jot/internal/client"
	"github.com/matheus3301/jot/internal/config"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/remote/fsbackend"
	"github.com/matheus3301/jot/internal/remotedb"
	"go.uber.org/zap"
)

// Backend is a remote.Backend the caller must close.
type Backend interface {
	remote.Backend
	Close() error
}

// Open connects to the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.Remote, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendGRPC:
		logger.Info("remote backend", zap.String("kind", cfg.Backend), zap.String("address", cfg.Address))
		c, err := client.Dial(cfg.Address)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("remote.sqlite_path is required for the sqlite backend")
		}
		db, res, err := remotedb.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("remote backend",
			zap.String("kind", cfg.Backend),
			zap.String("path", cfg.SQLitePath),
			zap.Uint("schema_version", res.Version))
		return db, nil
	case config.BackendFirestore:
		fs := cfg.Firestore
		if fs.ProjectID == "" {
			return nil, fmt.Errorf("remote.firestore.project_id is required for the firestore backend")
		}
		cols := fsbackend.Collections{
			Users:    fs.UsersCollection,
			Chats:    fs.ChatsCollection,
			Messages: fs.MessagesCollection,
		}
		logger.Info("remote backend", zap.String("kind", cfg.Backend), zap.String("project", fs.ProjectID))
		b, err := fsbackend.Dial(ctx, fs.ProjectID, fs.CredentialsFile, cols)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// AdapterOptions maps sync settings onto remote.Options.
func AdapterOptions(cfg *config.Config) remote.Options {
	opts := remote.DefaultOptions()
	opts.MaxRetries = cfg.Sync.MaxRetries
	opts.RetryDelay = cfg.Sync.RetryDelay()
	opts.Timeout = cfg.Remote.Timeout()
	return opts
}
