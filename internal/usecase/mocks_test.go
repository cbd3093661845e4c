package usecase

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
	"github.com/eliteGoblin/focusd/sec_comp/internal/validator"
)

// fakeScheduler is a manual clock scheduler. Tasks run only from Advance.
type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks map[string]*fakeTask
}

type fakeTask struct {
	key string
	due time.Duration
	seq int
	fn  func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]*fakeTask)}
}

func (s *fakeScheduler) PostDelayed(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tasks[key] = &fakeTask{key: key, due: s.now + delay, seq: s.seq, fn: fn}
}

func (s *fakeScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.tasks[key]
	delete(s.tasks, key)
	return found
}

// Advance moves the clock forward, running due tasks in deadline order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *fakeTask
		for _, t := range s.tasks {
			if t.due > target {
				continue
			}
			if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			break
		}
		delete(s.tasks, next.key)
		s.now = next.due
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

func (s *fakeScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.tasks[key]
	return found
}

func (s *fakeScheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mockPermissionKit implements domain.PermissionKit for testing
type mockPermissionKit struct {
	mu      sync.Mutex
	granted map[uint32]map[string]bool
	failOn  map[string]error
	dlp     map[uint32]bool
	revokes []string
}

func newMockPermissionKit() *mockPermissionKit {
	return &mockPermissionKit{
		granted: make(map[uint32]map[string]bool),
		failOn:  make(map[string]error),
		dlp:     make(map[uint32]bool),
	}
}

func (k *mockPermissionKit) GrantPermission(tokenID uint32, permission string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.failOn[permission]; err != nil {
		return err
	}
	if k.granted[tokenID] == nil {
		k.granted[tokenID] = make(map[string]bool)
	}
	k.granted[tokenID][permission] = true
	return nil
}

func (k *mockPermissionKit) RevokePermission(tokenID uint32, permission string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.revokes = append(k.revokes, permission)
	delete(k.granted[tokenID], permission)
	return nil
}

func (k *mockPermissionKit) VerifyPermission(tokenID uint32, permission string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.granted[tokenID][permission]
}

func (k *mockPermissionKit) IsDLPSandbox(tokenID uint32) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dlp[tokenID]
}

// mockDisplay implements domain.DisplayProvider for testing
type mockDisplay struct {
	screen domain.ScreenInfo
	err    error
	onCall func() // runs before returning, lets tests interleave with validation
}

func (d *mockDisplay) ScreenInfo(uint64, domain.CrossAxisState) (domain.ScreenInfo, error) {
	if d.onCall != nil {
		d.onCall()
	}
	return d.screen, d.err
}

// mockAudit records emitted events.
type mockAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *mockAudit) Emit(ev domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *mockAudit) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, len(a.events))
	for i, ev := range a.events {
		names[i] = ev.Name
	}
	return names
}

// mockEnhance implements domain.EnhanceAdapter for testing
type mockEnhance struct {
	componentErr error
	clickErr     error
	died         []int32
}

func (e *mockEnhance) CheckComponent(int32, *domain.Descriptor, []byte) error { return e.componentErr }
func (e *mockEnhance) CheckClick(int32, domain.ClickEvent) error              { return e.clickErr }
func (e *mockEnhance) NotifyProcessDied(pid int32)                            { e.died = append(e.died, pid) }

// mockLauncher implements domain.DialogLauncher for testing
type mockLauncher struct {
	mu        sync.Mutex
	launchErr error
	launched  []domain.DialogRequest
	toasts    []domain.DialogRequest
}

func (l *mockLauncher) Launch(req domain.DialogRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return l.launchErr
	}
	l.launched = append(l.launched, req)
	return nil
}

func (l *mockLauncher) Toast(req domain.DialogRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toasts = append(l.toasts, req)
	return nil
}

// memConsentStore implements domain.ConsentStore in memory.
type memConsentStore struct {
	mu      sync.Mutex
	records map[uint32]uint64
	saves   int
	loadErr error
}

func (s *memConsentStore) Load() (map[uint32]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[uint32]uint64, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memConsentStore) Save(records map[uint32]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.saves++
	return nil
}

func (s *memConsentStore) Close() error { return nil }

var errInjected = errors.New("injected failure")

var phone = domain.ScreenInfo{Width: 1080, Height: 2340}

// button returns a descriptor that passes every check on phone.
func button(t domain.ComponentType) *domain.Descriptor {
	return &domain.Descriptor{
		Type:            t,
		Rect:            domain.Rect{X: 100, Y: 100, Width: 160, Height: 40},
		WindowRect:      domain.Rect{X: 0, Y: 0, Width: 1080, Height: 2340},
		TextID:          0,
		IconID:          0,
		Background:      domain.BackgroundCapsule,
		FontSize:        16,
		IconSize:        16,
		FontColor:       0xFFFFFFFF,
		IconColor:       0xFFFFFFFF,
		BackgroundColor: 0xFF0A59F7,
		Padding:         domain.Padding{Top: 4, Right: 4, Bottom: 4, Left: 4},
		TextIconSpace:   4,
	}
}

// harness wires a ManagerImpl to fakes.
type harness struct {
	now       time.Time
	scheduler *fakeScheduler
	kit       *mockPermissionKit
	display   *mockDisplay
	audit     *mockAudit
	enhance   *mockEnhance
	launcher  *mockLauncher
	store     *memConsentStore
	malicious *MaliciousTracker
	perms     *PermissionManager
	consent   *ConsentManager
	manager   *ManagerImpl
	exited    int
}

func newHarness() *harness {
	h := &harness{
		now:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		scheduler: newFakeScheduler(),
		kit:       newMockPermissionKit(),
		display:   &mockDisplay{screen: phone},
		audit:     &mockAudit{},
		enhance:   &mockEnhance{},
		launcher:  &mockLauncher{},
		store:     &memConsentStore{records: make(map[uint32]uint64)},
		malicious: NewMaliciousTracker(),
	}
	logger := zap.NewNop()
	policies := policy.NewRegistry()
	clock := func() time.Time { return h.now }

	h.perms = NewPermissionManager(DefaultPermissionConfig(), h.kit, h.scheduler, policies, h.audit, logger)
	h.consent = NewConsentManager(DefaultConsentConfig(), h.store, h.launcher, h.scheduler, logger)
	h.manager = NewManager(DefaultManagerConfig(), ManagerDeps{
		Policies:    policies,
		Validator:   validator.New(validator.DefaultConfig(), policies, logger),
		Verifier:    NewClickVerifier(DefaultVerifierConfig(), clock),
		Permissions: h.perms,
		Consent:     h.consent,
		Malicious:   h.malicious,
		Display:     h.display,
		Enhance:     h.enhance,
		Audit:       h.audit,
		Scheduler:   h.scheduler,
		Clock:       clock,
	}, logger)
	h.manager.SetExitHandler(func() { h.exited++ })
	return h
}

func caller(pid int32) domain.CallerInfo {
	return domain.CallerInfo{TokenID: uint32(pid) + 10000, PID: pid, UID: pid + 20000}
}

// tap returns a fresh point click at the centre of the default button.
func (h *harness) tap() domain.ClickEvent {
	return domain.ClickEvent{Kind: domain.PointClick, X: 180, Y: 120, Timestamp: h.now.Add(-100 * time.Millisecond)}
}

func (h *harness) click(c domain.CallerInfo, scID int32, t domain.ComponentType) (domain.ClickResult, error) {
	return h.manager.ReportClick(c, domain.ClickRequest{
		ScID:       scID,
		Descriptor: button(t),
		Click:      h.tap(),
	})
}
