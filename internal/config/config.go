package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.jot/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Sync           Sync   `toml:"sync"`
	Remote         Remote `toml:"remote"`
	Server         Server `toml:"server"`
}

// Sync tunes background cycles and remote retries.
type Sync struct {
	IntervalMS   int64 `toml:"interval_ms"`
	MaxRetries   int   `toml:"max_retries"`
	RetryDelayMS int64 `toml:"retry_delay_ms"`
}

// Remote selects the record store a replica syncs with.
type Remote struct {
	// Backend is grpc, sqlite or firestore.
	Backend    string    `toml:"backend"`
	Address    string    `toml:"address"`
	TimeoutMS  int64     `toml:"timeout_ms"`
	SQLitePath string    `toml:"sqlite_path"`
	Firestore  Firestore `toml:"firestore"`
}

// Firestore configures the Firestore backend.
type Firestore struct {
	ProjectID          string `toml:"project_id"`
	CredentialsFile    string `toml:"credentials_file"`
	UsersCollection    string `toml:"users_collection"`
	ChatsCollection    string `toml:"chats_collection"`
	MessagesCollection string `toml:"messages_collection"`
}

// Server configures jotd.
type Server struct {
	Listen      string `toml:"listen"`
	AdminListen string `toml:"admin_listen"`
	DBPath      string `toml:"db_path"`
}

// Remote backends.
const (
	BackendGRPC      = "grpc"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Sync: Sync{
			IntervalMS:   60_000,
			MaxRetries:   3,
			RetryDelayMS: 5_000,
		},
		Remote: Remote{
			Backend:   BackendGRPC,
			Address:   "127.0.0.1:7420",
			TimeoutMS: 10_000,
			Firestore: Firestore{
				UsersCollection:    "JotUsers",
				ChatsCollection:    "JotChats",
				MessagesCollection: "JotMessages",
			},
		},
		Server: Server{
			Listen:      "127.0.0.1:7420",
			AdminListen: "127.0.0.1:7421",
		},
	}
}

// Load reads config from the given path over the defaults. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendGRPC, BackendSQLite, BackendFirestore:
	default:
		return fmt.Errorf("remote.backend: unknown backend %q", c.Remote.Backend)
	}
	if c.Sync.IntervalMS <= 0 {
		return fmt.Errorf("sync.interval_ms must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.Sync.RetryDelayMS < 0 || c.Remote.TimeoutMS < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Interval is the period between background cycles.
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// RetryDelay is the base delay between remote retries.
func (s Sync) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// Timeout bounds one remote attempt.
func (r Remote) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}
