package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// ExecMode represents the execution mode of the service.
type ExecMode string

const (
	// ExecModeUser runs per-user with sockets under the runtime dir
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with sockets under /run
	ExecModeSystem ExecMode = "system"
)

// ServiceName names the binary, socket and state directories.
const ServiceName = "seccompd"

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	RuntimeDir string // Socket and pid file
	SocketPath string
	PidFile    string
	DataDir    string // Consent records and key
	LogDir     string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return SystemModeConfig()
	}
	return UserModeConfig()
}

// SystemModeConfig returns the root service layout.
func SystemModeConfig() *ExecModeConfig {
	runtime := filepath.Join("/run", ServiceName)
	return &ExecModeConfig{
		Mode:       ExecModeSystem,
		RuntimeDir: runtime,
		SocketPath: filepath.Join(runtime, ServiceName+".sock"),
		PidFile:    filepath.Join(runtime, ServiceName+".pid"),
		DataDir:    filepath.Join("/var/lib", ServiceName),
		LogDir:     filepath.Join("/var/log", ServiceName),
		IsRoot:     true,
	}
}

// UserModeConfig returns the per-user layout regardless of current euid.
// Under sudo the invoking user's home is used.
func UserModeConfig() *ExecModeConfig {
	runtime := userRuntimeDir()
	home := GetRealUserHome()
	data := filepath.Join(home, ".local", "state", ServiceName)
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		RuntimeDir: runtime,
		SocketPath: filepath.Join(runtime, ServiceName+".sock"),
		PidFile:    filepath.Join(runtime, ServiceName+".pid"),
		DataDir:    data,
		LogDir:     filepath.Join(data, "log"),
		IsRoot:     os.Geteuid() == 0,
	}
}

func userRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, ServiceName)
	}
	return filepath.Join(os.TempDir(), ServiceName+"-"+strconv.Itoa(os.Getuid()))
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root, /run)"
	case ExecModeUser:
		return "user (runtime dir)"
	default:
		return "unknown"
	}
}

// ParseExecMode maps a flag value to a layout. Empty or "auto" detects.
func ParseExecMode(s string) (*ExecModeConfig, bool) {
	switch s {
	case "", "auto":
		return DetectExecMode(), true
	case string(ExecModeSystem):
		return SystemModeConfig(), true
	case string(ExecModeUser):
		return UserModeConfig(), true
	default:
		return nil, false
	}
}

// EnsureDirs creates the runtime, data and log directories.
func (c *ExecModeConfig) EnsureDirs() error {
	for _, dir := range []string{c.RuntimeDir, c.DataDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
