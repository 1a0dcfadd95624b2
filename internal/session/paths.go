package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatkit, or $CHATKIT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("CHATKIT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatkit")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the daemon's unix socket.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the single-instance lock file.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ConfigPath returns the session's session.toml.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "session.toml")
}

// EnvPath returns the session's optional .env overlay.
func EnvPath(name string) string {
	return filepath.Join(Dir(name), ".env")
}

// DBPath returns the replay log database.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chatkit.db")
}

// LogPath returns the daemon log file.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "chatkitd.log")
}

// GlobalConfigPath returns ~/.chatkit/config.toml.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree owner-only.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), filepath.Dir(LogPath(name))} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
