package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
)

// mockManager is a test double for domain.ComponentManager
type mockManager struct {
	mu sync.Mutex

	registered  []*domain.Descriptor
	updated     map[int32]*domain.Descriptor
	registerErr error
	clickResult domain.ClickResult
	clickErr    error
	lastClick   domain.ClickRequest
	completed   map[string]bool
	saveGranted bool
	consumed    int
	events      []string
}

func newMockManager() *mockManager {
	return &mockManager{
		updated:   make(map[int32]*domain.Descriptor),
		completed: make(map[string]bool),
	}
}

func (m *mockManager) AddProcess(caller domain.CallerInfo) error {
	m.log("add")
	return nil
}

func (m *mockManager) Register(caller domain.CallerInfo, d *domain.Descriptor, raw []byte) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return 0, m.registerErr
	}
	m.registered = append(m.registered, d)
	return 1000 + int32(len(m.registered)), nil
}

func (m *mockManager) Update(caller domain.CallerInfo, scID int32, d *domain.Descriptor, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scID != 1001 {
		return domain.ErrComponentNotExist
	}
	m.updated[scID] = d
	return nil
}

func (m *mockManager) Unregister(caller domain.CallerInfo, scID int32) error {
	if scID < 0 {
		return domain.ErrValueInvalid
	}
	if scID != 1001 {
		return domain.ErrComponentNotExist
	}
	return nil
}

func (m *mockManager) ReportClick(caller domain.CallerInfo, req domain.ClickRequest) (domain.ClickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastClick = req
	return m.clickResult, m.clickErr
}

func (m *mockManager) CompleteDialog(resumeToken string, accepted bool) (domain.ClickResult, error) {
	m.mu.Lock()
	cb := m.lastClick.Callback
	m.completed[resumeToken] = accepted
	m.mu.Unlock()

	res := domain.ClickResult{State: domain.ClickGranted}
	if !accepted {
		res = domain.ClickResult{State: domain.ClickRejected, Message: "user declined"}
	}
	if cb != nil {
		cb(res, nil)
	}
	return res, nil
}

func (m *mockManager) VerifySavePermission(tokenID uint32) bool { return m.saveGranted }

func (m *mockManager) ReduceAfterVerifySavePermission(tokenID uint32) bool {
	m.consumed++
	return m.saveGranted
}

func (m *mockManager) NotifyProcessForeground(pid int32) { m.log("foreground") }
func (m *mockManager) NotifyProcessBackground(pid int32) { m.log("background") }

func (m *mockManager) NotifyProcessDied(pid int32, cached bool) {
	if cached {
		m.log("died-cached")
		return
	}
	m.log("died")
}

func (m *mockManager) IsIdle() bool                       { return true }
func (m *mockManager) TrackedPIDs() []int32               { return nil }
func (m *mockManager) Snapshot() []domain.ProcessSnapshot { return nil }
func (m *mockManager) Dump() string                       { return "pid:1, tokenId:2\n" }
func (m *mockManager) Shutdown()                          {}

func (m *mockManager) log(ev string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockManager) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// staticResolver maps pids to callers.
type staticResolver map[int32]domain.CallerInfo

func (r staticResolver) Resolve(ctx context.Context, pid, uid int32) (domain.CallerInfo, error) {
	c, ok := r[pid]
	if !ok {
		return domain.CallerInfo{}, domain.ErrValueInvalid
	}
	return c, nil
}

// headerPeer reads a fake peer pid from X-Test-Pid.
func headerPeer(r *http.Request) (infra.PeerCred, bool) {
	var pid int32
	for _, ch := range r.Header.Get("X-Test-Pid") {
		pid = pid*10 + int32(ch-'0')
	}
	return infra.PeerCred{PID: pid}, pid != 0
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) Emit(e domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.events {
		out = append(out, e.Name)
	}
	return out
}
