package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.taklif.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taklif")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// DataDir returns the local store directory (users.json, messages.json, tokens.json).
// A non-empty override from config wins.
func DataDir(name, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(Dir(name), "data")
}

// SocketPath returns the UDS socket path of the daemon status server.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "taklifd.sock")
}

// JournalPath returns the sqlite sync journal path.
func JournalPath(name string) string {
	return filepath.Join(Dir(name), "journal.db")
}

// ChatSessionDBPath returns the whatsmeow device store path.
func ChatSessionDBPath(name string) string {
	return filepath.Join(Dir(name), "chat-session.db")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
