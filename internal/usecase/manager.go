package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
	"github.com/eliteGoblin/focusd/sec_comp/internal/validator"
)

const delayExitTask = "DelayExitTask"

// ManagerConfig holds registry settings.
type ManagerConfig struct {
	MaxComponentsPerProcess int           // Registration fails once a process holds more
	ScIDStart               int32         // Ids are allocated above this value
	IdleExitDelay           time.Duration // Idle period before the service exits
	AllowNoBackground       bool          // Accept components drawn without a background
}

// DefaultManagerConfig returns default registry configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxComponentsPerProcess: 500,
		ScIDStart:               1000,
		IdleExitDelay:           120 * time.Second,
	}
}

// ManagerDeps are the collaborators of ManagerImpl.
// Enhance and Windows may be nil.
type ManagerDeps struct {
	Policies    *policy.Registry
	Validator   *validator.Validator
	Verifier    *ClickVerifier
	Permissions *PermissionManager
	Consent     *ConsentManager
	Malicious   *MaliciousTracker
	Display     domain.DisplayProvider
	Windows     domain.WindowProvider
	Enhance     domain.EnhanceAdapter
	Audit       domain.AuditSink
	Scheduler   domain.Scheduler
	Clock       func() time.Time
}

// processEntry is the component table row of one process.
type processEntry struct {
	tokenID      uint32
	isForeground bool
	entities     []*domain.Entity
}

func (p *processEntry) find(scID int32) (int, *domain.Entity) {
	for i, e := range p.entities {
		if e.ScID == scID {
			return i, e
		}
	}
	return -1, nil
}

// ManagerImpl implements domain.ComponentManager.
type ManagerImpl struct {
	config ManagerConfig
	deps   ManagerDeps
	logger *zap.Logger

	// mu guards procs. idMu is always taken before mu.
	mu    sync.RWMutex
	procs map[int32]*processEntry

	idMu   sync.Mutex
	nextID int32

	exiting atomic.Bool
	onExit  func()
}

// NewManager creates the component registry and wires the permission expiry
// listener.
func NewManager(config ManagerConfig, deps ManagerDeps, logger *zap.Logger) *ManagerImpl {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	m := &ManagerImpl{
		config: config,
		deps:   deps,
		logger: logger,
		procs:  make(map[int32]*processEntry),
		nextID: config.ScIDStart,
	}
	deps.Permissions.SetRevokeListener(m.onPermissionExpired)
	return m
}

// Ensure ManagerImpl implements domain.ComponentManager.
var _ domain.ComponentManager = (*ManagerImpl)(nil)

// SetExitHandler installs the hook run when the idle exit task fires.
func (m *ManagerImpl) SetExitHandler(fn func()) {
	m.onExit = fn
}

// Exiting reports whether the registry stopped accepting work.
func (m *ManagerImpl) Exiting() bool {
	return m.exiting.Load()
}

// StartIdleExit arms the idle exit task. Called once at service start.
func (m *ManagerImpl) StartIdleExit() {
	m.startDelayExit()
}

func (m *ManagerImpl) emit(ev domain.AuditEvent) {
	ev.Time = m.deps.Clock()
	m.deps.Audit.Emit(ev)
}

func (m *ManagerImpl) checkMalicious(caller domain.CallerInfo, scene string) error {
	if !m.deps.Malicious.Contains(caller.PID, caller.UID) {
		return nil
	}
	m.logger.Error("app is in malicious list, never allow it",
		zap.Int32("pid", caller.PID),
		zap.Int32("uid", caller.UID),
		zap.String("scene", scene))
	m.emit(domain.AuditEvent{
		Name:  domain.EventInMaliciousList,
		Kind:  domain.AuditSecurity,
		PID:   caller.PID,
		UID:   caller.UID,
		Scene: scene,
	})
	return domain.ErrInMaliciousList
}

// environment resolves the display and window state a descriptor is
// checked against. Must not be called with mu held.
func (m *ManagerImpl) environment(caller domain.CallerInfo, d *domain.Descriptor) (validator.Env, error) {
	env := validator.Env{
		Trusted:           caller.System,
		AllowNoBackground: m.config.AllowNoBackground,
	}
	screen, err := m.deps.Display.ScreenInfo(d.DisplayID, d.CrossAxis)
	if err != nil {
		return env, fmt.Errorf("get screen info failed: %w", err)
	}
	env.Screen = screen
	if m.deps.Windows != nil {
		if wi, err := m.deps.Windows.WindowInfo(d.WindowID); err == nil {
			env.Window = wi
			env.HasWindow = true
		}
	}
	return env, nil
}

// validate runs the full style and placement check on d.
func (m *ManagerImpl) validate(caller domain.CallerInfo, d *domain.Descriptor) validator.Result {
	env, err := m.environment(caller, d)
	if err != nil {
		d.Valid = false
		return validator.Result{Message: err.Error()}
	}
	return m.deps.Validator.Validate(d, env)
}

// enhanceComponent runs the tamper hook. A failure blocklists the caller.
func (m *ManagerImpl) enhanceComponent(caller domain.CallerInfo, scID int32, d *domain.Descriptor, raw []byte, scene string) error {
	if m.deps.Enhance == nil {
		return nil
	}
	err := m.deps.Enhance.CheckComponent(caller.PID, d, raw)
	if err == nil {
		return nil
	}

	m.logger.Error("enhance check failed",
		zap.Int32("pid", caller.PID),
		zap.Int32("sc_id", scID),
		zap.String("scene", scene),
		zap.Error(err))
	m.emit(domain.AuditEvent{
		Name:    domain.EventChallengeCheckFailed,
		Kind:    domain.AuditSecurity,
		PID:     caller.PID,
		UID:     caller.UID,
		ScID:    scID,
		Type:    d.Type,
		Scene:   scene,
		Message: err.Error(),
	})
	m.deps.Malicious.Add(caller.PID, caller.UID)

	if domain.CodeOf(err) == domain.CodeValueInvalid {
		return domain.Errorf(domain.ErrChallengeCheckFailed, "%v", err)
	}
	return err
}

// AddProcess records a process-started notice.
func (m *ManagerImpl) AddProcess(caller domain.CallerInfo) error {
	if m.exiting.Load() {
		return domain.ErrServiceNotExist
	}

	m.mu.Lock()
	entry, exists := m.procs[caller.PID]
	if !exists {
		entry = &processEntry{tokenID: caller.TokenID}
		m.procs[caller.PID] = entry
	}
	entry.isForeground = true
	m.mu.Unlock()

	m.stopDelayExit()
	m.logger.Debug("process added", zap.Int32("pid", caller.PID), zap.Bool("new", !exists))
	return nil
}

// Register validates and stores a new component. A descriptor that fails
// validation is stored with Valid false and cannot be clicked until updated.
func (m *ManagerImpl) Register(caller domain.CallerInfo, d *domain.Descriptor, raw []byte) (int32, error) {
	if m.exiting.Load() {
		return 0, domain.ErrServiceNotExist
	}
	if d == nil || !d.Type.IsValid() {
		return 0, domain.Errorf(domain.ErrValueInvalid, "component type is invalid")
	}
	if err := m.checkMalicious(caller, "REGISTER"); err != nil {
		return 0, err
	}

	d = d.Clone()
	res := m.validate(caller, d)
	if !res.Valid {
		m.logger.Warn("registered component is invalid",
			zap.Int32("pid", caller.PID),
			zap.Stringer("type", d.Type),
			zap.String("message", res.Message))
		m.emit(domain.AuditEvent{
			Name:    domain.EventComponentInfoCheckFailed,
			Kind:    domain.AuditSecurity,
			PID:     caller.PID,
			UID:     caller.UID,
			Type:    d.Type,
			Scene:   "REGISTER",
			Message: res.Message,
		})
	}

	if err := m.enhanceComponent(caller, 0, d, raw, "REGISTER"); err != nil {
		return 0, err
	}

	entity := &domain.Entity{
		TokenID:          caller.TokenID,
		PID:              caller.PID,
		UID:              caller.UID,
		Descriptor:       d,
		CustomAuthorized: caller.CustomizeSaveButton,
	}
	if err := m.insert(caller, entity); err != nil {
		return 0, err
	}

	m.stopDelayExit()
	m.logger.Info("registered security component",
		zap.Int32("pid", caller.PID),
		zap.Int32("sc_id", entity.ScID),
		zap.Stringer("type", d.Type),
		zap.Bool("valid", d.Valid))
	return entity.ScID, nil
}

// insert allocates an id and adds entity to its process row.
func (m *ManagerImpl) insert(caller domain.CallerInfo, entity *domain.Entity) error {
	m.idMu.Lock()
	defer m.idMu.Unlock()

	m.mu.RLock()
	if m.exiting.Load() {
		m.mu.RUnlock()
		return domain.Errorf(domain.ErrServiceNotExist, "service is exiting")
	}
	entry := m.procs[caller.PID]
	if entry != nil && len(entry.entities) > m.config.MaxComponentsPerProcess {
		m.mu.RUnlock()
		m.logger.Error("too many components", zap.Int32("pid", caller.PID))
		return domain.Errorf(domain.ErrValueInvalid, "too many components in process %d", caller.PID)
	}
	id := m.allocateID()
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exiting.Load() {
		return domain.Errorf(domain.ErrServiceNotExist, "service is exiting")
	}
	entry = m.procs[caller.PID]
	if entry == nil {
		entry = &processEntry{tokenID: caller.TokenID}
		m.procs[caller.PID] = entry
	}
	if len(entry.entities) > m.config.MaxComponentsPerProcess {
		return domain.Errorf(domain.ErrValueInvalid, "too many components in process %d", caller.PID)
	}
	entity.ScID = id
	entry.entities = append(entry.entities, entity)
	entry.isForeground = true
	return nil
}

// allocateID scans forward from the rolling counter to the first unused id.
// Caller holds idMu and mu for reading.
func (m *ManagerImpl) allocateID() int32 {
	used := make(map[int32]struct{})
	for _, entry := range m.procs {
		for _, e := range entry.entities {
			used[e.ScID] = struct{}{}
		}
	}

	for {
		if m.nextID == math.MaxInt32 {
			m.nextID = m.config.ScIDStart
		} else {
			m.nextID++
		}
		if _, taken := used[m.nextID]; !taken {
			return m.nextID
		}
	}
}

// Update replaces the descriptor of an existing component. The component
// type is fixed at registration.
func (m *ManagerImpl) Update(caller domain.CallerInfo, scID int32, d *domain.Descriptor, raw []byte) error {
	if m.exiting.Load() {
		return domain.ErrServiceNotExist
	}
	if d == nil {
		return domain.Errorf(domain.ErrValueInvalid, "component is empty")
	}
	if err := m.checkMalicious(caller, "UPDATE"); err != nil {
		return err
	}

	t, err := m.entityType(caller.PID, scID)
	if err != nil {
		return err
	}
	m.mu.RLock()
	err = m.foregroundLocked(caller)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	d = d.Clone()
	d.Type = t
	res := m.validate(caller, d)
	if !res.Valid {
		m.logger.Warn("updated component is invalid",
			zap.Int32("pid", caller.PID),
			zap.Int32("sc_id", scID),
			zap.String("message", res.Message))
		m.emit(domain.AuditEvent{
			Name:    domain.EventComponentInfoCheckFailed,
			Kind:    domain.AuditSecurity,
			PID:     caller.PID,
			UID:     caller.UID,
			ScID:    scID,
			Type:    t,
			Scene:   "UPDATE",
			Message: res.Message,
		})
	}

	if err := m.enhanceComponent(caller, scID, d, raw, "UPDATE"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entity := m.lookup(caller.PID, scID)
	if entity == nil {
		return domain.ErrComponentNotExist
	}
	entity.Descriptor = d
	return nil
}

// entityType returns the registered type of (pid, scID).
func (m *ManagerImpl) entityType(pid, scID int32) (domain.ComponentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity := m.lookup(pid, scID)
	if entity == nil {
		m.logger.Error("can not find target component", zap.Int32("pid", pid), zap.Int32("sc_id", scID))
		return domain.UnknownComponent, domain.ErrComponentNotExist
	}
	return entity.Type(), nil
}

// lookup finds an entity. Caller holds mu.
func (m *ManagerImpl) lookup(pid, scID int32) *domain.Entity {
	entry := m.procs[pid]
	if entry == nil {
		return nil
	}
	_, e := entry.find(scID)
	return e
}

// Unregister removes a component. Its outstanding grant is left to expire.
func (m *ManagerImpl) Unregister(caller domain.CallerInfo, scID int32) error {
	if scID < 0 {
		return domain.Errorf(domain.ErrValueInvalid, "sc id %d is invalid", scID)
	}

	m.mu.Lock()
	entry := m.procs[caller.PID]
	if entry == nil {
		m.mu.Unlock()
		m.logger.Error("pid is not in component list", zap.Int32("pid", caller.PID))
		return domain.ErrComponentNotExist
	}
	i, _ := entry.find(scID)
	if i < 0 {
		m.mu.Unlock()
		m.logger.Error("sc id is not in component list",
			zap.Int32("pid", caller.PID),
			zap.Int32("sc_id", scID))
		return domain.ErrComponentNotExist
	}
	entry.entities = append(entry.entities[:i], entry.entities[i+1:]...)
	m.mu.Unlock()

	m.logger.Info("unregistered security component",
		zap.Int32("pid", caller.PID),
		zap.Int32("sc_id", scID))
	m.startDelayExit()
	return nil
}

// VerifySavePermission reports whether save permission is held.
func (m *ManagerImpl) VerifySavePermission(tokenID uint32) bool {
	return m.deps.Permissions.VerifySavePermission(tokenID)
}

// ReduceAfterVerifySavePermission consumes one save grant if held.
func (m *ManagerImpl) ReduceAfterVerifySavePermission(tokenID uint32) bool {
	held := m.deps.Permissions.ReduceAfterVerifySavePermission(tokenID)
	if held && !m.deps.Permissions.VerifySavePermission(tokenID) {
		m.clearGranted(tokenID, domain.SaveComponent)
	}
	return held
}

// NotifyProcessForeground cancels a pending bulk revoke.
func (m *ManagerImpl) NotifyProcessForeground(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.procs[pid]
	if entry == nil {
		return
	}
	m.deps.Permissions.CancelRevokeAll(entry.tokenID)
	entry.isForeground = true
	m.logger.Debug("process foreground", zap.Int32("pid", pid))
}

// NotifyProcessBackground schedules a delayed bulk revoke.
func (m *ManagerImpl) NotifyProcessBackground(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.procs[pid]
	if entry == nil {
		return
	}
	m.deps.Permissions.RevokeAllDelayed(entry.tokenID)
	entry.isForeground = false
	m.logger.Debug("process background", zap.Int32("pid", pid))
}

// NotifyProcessDied clears a dead process and revokes everything its owner holds.
func (m *ManagerImpl) NotifyProcessDied(pid int32, cached bool) {
	if !cached {
		if m.deps.Enhance != nil {
			m.deps.Enhance.NotifyProcessDied(pid)
		}
		m.deps.Malicious.Remove(pid)
	}
	if m.deps.Consent != nil {
		if n := m.deps.Consent.DropProcess(pid); n > 0 {
			m.logger.Info("dropped pending dialogs", zap.Int32("pid", pid), zap.Int("count", n))
		}
	}

	m.mu.Lock()
	entry := m.procs[pid]
	if entry == nil {
		m.mu.Unlock()
		return
	}
	m.logger.Info("clear process components",
		zap.Int32("pid", pid),
		zap.Int("count", len(entry.entities)),
		zap.Bool("cached", cached))
	entry.entities = nil
	m.deps.Permissions.RevokeAllImmediate(entry.tokenID)
	delete(m.procs, pid)
	m.mu.Unlock()

	m.startDelayExit()
}

// IsIdle reports whether no process has a live entity.
func (m *ManagerImpl) IsIdle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idleLocked()
}

func (m *ManagerImpl) idleLocked() bool {
	for _, entry := range m.procs {
		if len(entry.entities) > 0 {
			return false
		}
	}
	return true
}

// foregroundLocked rejects non-system callers whose process is known to be in
// background. Caller holds mu.
func (m *ManagerImpl) foregroundLocked(caller domain.CallerInfo) error {
	if caller.System {
		return nil
	}
	if entry := m.procs[caller.PID]; entry != nil && !entry.isForeground {
		return domain.Errorf(domain.ErrValueInvalid, "process %d is not in foreground", caller.PID)
	}
	return nil
}

// TrackedPIDs returns the pids present in the process table, sorted.
func (m *ManagerImpl) TrackedPIDs() []int32 {
	m.mu.RLock()
	pids := make([]int32, 0, len(m.procs))
	for pid := range m.procs {
		pids = append(pids, pid)
	}
	m.mu.RUnlock()

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Snapshot returns a read-only view of the process table, sorted by pid.
func (m *ManagerImpl) Snapshot() []domain.ProcessSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ProcessSnapshot, 0, len(m.procs))
	for pid, entry := range m.procs {
		snap := domain.ProcessSnapshot{
			PID:          pid,
			TokenID:      entry.tokenID,
			IsForeground: entry.isForeground,
			Permissions:  m.deps.Permissions.State(entry.tokenID),
			Entities:     make([]domain.EntitySnapshot, 0, len(entry.entities)),
		}
		for _, e := range entry.entities {
			snap.Entities = append(snap.Entities, domain.EntitySnapshot{
				ScID:    e.ScID,
				Type:    e.Type(),
				Granted: e.Granted,
				Valid:   e.Descriptor.Valid,
				Rect:    e.Descriptor.Rect,
			})
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Dump renders the process table for diagnostics.
func (m *ManagerImpl) Dump() string {
	var b strings.Builder
	for _, p := range m.Snapshot() {
		fmt.Fprintf(&b, "pid:%d, tokenId:%d, locationPerm:%t, pastePerm:%t, savePerm:%t\n",
			p.PID, p.TokenID, p.Permissions.Location, p.Permissions.Paste, p.Permissions.Save)
		for _, e := range p.Entities {
			fmt.Fprintf(&b, "    scId:%d, type:%s, isGrant:%t, valid:%t, rect:(%.1f, %.1f, %.1f, %.1f)\n",
				e.ScID, e.Type, e.Granted, e.Valid, e.Rect.X, e.Rect.Y, e.Rect.Width, e.Rect.Height)
		}
	}
	return b.String()
}

// Shutdown clears every process, revokes all grants and stops accepting work.
func (m *ManagerImpl) Shutdown() {
	m.exiting.Store(true)
	m.stopDelayExit()

	m.mu.Lock()
	for pid, entry := range m.procs {
		m.deps.Permissions.RevokeAllImmediate(entry.tokenID)
		delete(m.procs, pid)
	}
	m.mu.Unlock()

	if m.deps.Consent != nil {
		if err := m.deps.Consent.Flush(); err != nil {
			m.logger.Error("failed to persist first use records", zap.Error(err))
		}
	}
	m.logger.Info("security component registry shut down")
}

func (m *ManagerImpl) startDelayExit() {
	m.deps.Scheduler.PostDelayed(delayExitTask, m.config.IdleExitDelay, m.exitIfIdle)
}

func (m *ManagerImpl) stopDelayExit() {
	m.deps.Scheduler.Cancel(delayExitTask)
}

// exitIfIdle stops the service when no component is registered.
// The exiting flag flips under mu so a concurrent insert either lands first
// and keeps the service alive or observes the flag and fails.
func (m *ManagerImpl) exitIfIdle() {
	m.mu.Lock()
	if !m.idleLocked() || !m.exiting.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info("no security component registered, exiting")
	if m.onExit != nil {
		m.onExit()
	}
}

// onPermissionExpired clears Granted on entities whose grant lapsed.
func (m *ManagerImpl) onPermissionExpired(tokenID uint32, t domain.ComponentType) {
	m.clearGranted(tokenID, t)
}

func (m *ManagerImpl) clearGranted(tokenID uint32, t domain.ComponentType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.procs {
		if entry.tokenID != tokenID {
			continue
		}
		for _, e := range entry.entities {
			if t == domain.UnknownComponent || e.Type() == t {
				e.Granted = false
			}
		}
	}
}
