package infra

import (
	"fmt"
	"os"
)

// mockProcessManager is a test double for domain.ProcessManager
type mockProcessManager struct {
	running map[int]bool
	uids    map[int]int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		running: make(map[int]bool),
		uids:    make(map[int]int),
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.running[pid]
}

func (m *mockProcessManager) UID(pid int) (int, error) {
	uid, ok := m.uids[pid]
	if !ok {
		return -1, fmt.Errorf("process %d not found", pid)
	}
	return uid, nil
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetProcess(pid, uid int) {
	m.running[pid] = true
	m.uids[pid] = uid
}
