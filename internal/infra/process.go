// Package infra implements infrastructure adapters (process, storage, display, identity, audit).
package infra

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is not a zombie.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true // Status may be unreadable for foreign processes
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// UID returns the real uid owning a PID.
func (pm *ProcessManagerImpl) UID(pid int) (int, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return -1, fmt.Errorf("process %d not found: %w", pid, err)
	}
	uids, err := p.Uids()
	if err != nil {
		return -1, fmt.Errorf("failed to read uids of %d: %w", pid, err)
	}
	if len(uids) == 0 {
		return -1, fmt.Errorf("no uid for process %d", pid)
	}
	return int(uids[0]), nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
