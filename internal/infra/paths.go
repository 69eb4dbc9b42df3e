package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const AppName = "tradecore"

const localWorkspace = "_workspace"

// GetWorkspaceDir returns the directory for runtime data (event log, snapshots, lock).
// A local _workspace directory wins, otherwise the OS data directory is used.
func GetWorkspaceDir() string {
	if _, err := os.Stat(localWorkspace); err == nil {
		return localWorkspace
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, "Library", "Application Support")
	case "linux":
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".local", "share")
		}
	default:
		return localWorkspace
	}
	return filepath.Join(base, AppName)
}

// ResolveDataPath anchors a relative storage path in the workspace. Absolute paths pass through.
func ResolveDataPath(workDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// CreateLockFile claims workDir for this process. Only one engine may write an event log.
// The returned func releases the lock.
func CreateLockFile(workDir string) (func(), error) {
	lockPath := filepath.Join(workDir, "engine.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another engine owns %s (lock file %s)", workDir, lockPath)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %v %v", werr, cerr)
	}
	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds config.yaml in ./configs, then in the OS config directory.
// The local default is returned when neither exists so LoadConfig reports the missing file.
func ResolveConfigPath() string {
	local := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if root, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(root, AppName, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return local
}
