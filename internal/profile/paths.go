package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "JOT_HOME"

// BaseDir returns ~/.jot, or $JOT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".jot")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the replica database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "replica.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the jotctl log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "jotctl.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// ServerDir returns the jotd data directory.
func ServerDir() string {
	return filepath.Join(BaseDir(), "server")
}

// ServerDBPath returns the default jotd record store path.
func ServerDBPath() string {
	return filepath.Join(ServerDir(), "records.db")
}

// ServerLogPath returns the jotd log file path.
func ServerLogPath() string {
	return filepath.Join(ServerDir(), "logs", "jotd.log")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
