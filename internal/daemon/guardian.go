package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// ErrAlreadyRunning is returned by Acquire when another instance holds the pid file.
var ErrAlreadyRunning = errors.New("seccompd is already running")

// InstanceGuard keeps a single service instance per pid file. The pid file
// stays locked for the lifetime of the process.
type InstanceGuard struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// NewInstanceGuard creates a guard over path.
func NewInstanceGuard(path string, logger *zap.Logger) *InstanceGuard {
	return &InstanceGuard{path: path, logger: logger}
}

// Acquire locks the pid file and records the current pid in it.
func (g *InstanceGuard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := ReadPIDFile(g.path)
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return fmt.Errorf("failed to lock pid file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		g.unlock(f)
		return fmt.Errorf("failed to truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		g.unlock(f)
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	g.file = f
	g.logger.Debug("pid file acquired", zap.String("path", g.path), zap.Int("pid", os.Getpid()))
	return nil
}

// Release removes the pid file and drops the lock.
func (g *InstanceGuard) Release() {
	if g.file == nil {
		return
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("failed to remove pid file", zap.Error(err))
	}
	g.unlock(g.file)
	g.file = nil
}

func (g *InstanceGuard) unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	_ = f.Close()
}

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// RunningPID returns the pid recorded at path if that process is alive.
func RunningPID(path string, procs domain.ProcessManager) (int, bool) {
	pid, err := ReadPIDFile(path)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, procs.IsRunning(pid)
}
