package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
)

// PermissionConfig holds grant lifetime settings.
type PermissionConfig struct {
	SaveRevokeDelay       time.Duration // Lifetime of one save click
	BackgroundRevokeDelay time.Duration // Grace period before a backgrounded app loses grants
}

// DefaultPermissionConfig returns default permission configuration.
func DefaultPermissionConfig() PermissionConfig {
	return PermissionConfig{
		SaveRevokeDelay:       60 * time.Second,
		BackgroundRevokeDelay: 10 * time.Second,
	}
}

// RevokeListener is told when a scheduled expiry removed a grant.
type RevokeListener func(tokenID uint32, t domain.ComponentType)

// saveRecord is the debounced save grant of one token.
// len(tasks) is the apply count; tasks[0] is the oldest pending expiry.
type saveRecord struct {
	tasks []string
}

// PermissionManager grants and revokes temporary permissions.
type PermissionManager struct {
	config    PermissionConfig
	kit       domain.PermissionKit
	scheduler domain.Scheduler
	policies  *policy.Registry
	audit     domain.AuditSink
	logger    *zap.Logger

	mu       sync.Mutex
	save     map[uint32]*saveRecord
	seq      uint64
	listener RevokeListener
}

// NewPermissionManager creates a permission manager.
func NewPermissionManager(
	config PermissionConfig,
	kit domain.PermissionKit,
	scheduler domain.Scheduler,
	policies *policy.Registry,
	audit domain.AuditSink,
	logger *zap.Logger,
) *PermissionManager {
	return &PermissionManager{
		config:    config,
		kit:       kit,
		scheduler: scheduler,
		policies:  policies,
		audit:     audit,
		logger:    logger,
		save:      make(map[uint32]*saveRecord),
	}
}

// SetRevokeListener installs the expiry listener.
func (p *PermissionManager) SetRevokeListener(l RevokeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func revokeAllTaskName(tokenID uint32) string {
	return fmt.Sprintf("RevokeAll%d", tokenID)
}

// GrantTemp grants the permission a component kind unlocks.
func (p *PermissionManager) GrantTemp(tokenID uint32, t domain.ComponentType) error {
	pol, err := p.policies.Lookup(t)
	if err != nil {
		return domain.Errorf(domain.ErrValueInvalid, "%v", err)
	}
	if pol.Debounced() {
		return p.grantSave(tokenID)
	}

	perms := pol.Permissions()
	for i, perm := range perms {
		if err := p.kit.GrantPermission(tokenID, perm); err != nil {
			p.logger.Error("grant permission failed, rolling back",
				zap.Uint32("token_id", tokenID),
				zap.String("permission", perm),
				zap.Error(err))
			for j := i - 1; j >= 0; j-- {
				if rerr := p.kit.RevokePermission(tokenID, perms[j]); rerr != nil {
					p.logger.Error("rollback revoke failed",
						zap.Uint32("token_id", tokenID),
						zap.String("permission", perms[j]),
						zap.Error(rerr))
				}
			}
			return domain.Errorf(domain.ErrPermissionOperFailed, "grant %s failed: %v", perm, err)
		}
	}

	p.logger.Info("granted temp permission",
		zap.Uint32("token_id", tokenID),
		zap.Stringer("type", t))
	return nil
}

// grantSave adds one independent expiry to the token's save record.
func (p *PermissionManager) grantSave(tokenID uint32) error {
	if p.kit.IsDLPSandbox(tokenID) {
		p.logger.Warn("save permission denied for DLP sandbox", zap.Uint32("token_id", tokenID))
		return domain.Errorf(domain.ErrPermissionOperFailed, "DLP sandbox cannot hold save permission")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	key := fmt.Sprintf("RevokeSave%d_%d", tokenID, p.seq)
	rec := p.save[tokenID]
	if rec == nil {
		rec = &saveRecord{}
		p.save[tokenID] = rec
	}
	rec.tasks = append(rec.tasks, key)
	// The scheduler never runs fn synchronously, so posting under mu is safe.
	p.scheduler.PostDelayed(key, p.config.SaveRevokeDelay, func() {
		p.expire(tokenID, domain.SaveComponent, func() { p.revokeSave(tokenID) })
	})

	p.logger.Info("granted temp save permission",
		zap.Uint32("token_id", tokenID),
		zap.Int("count", len(rec.tasks)))
	return nil
}

// RevokeTemp revokes the permission of one kind. Revoking an ungranted
// permission is a no-op.
func (p *PermissionManager) RevokeTemp(tokenID uint32, t domain.ComponentType) error {
	pol, err := p.policies.Lookup(t)
	if err != nil {
		return domain.Errorf(domain.ErrValueInvalid, "%v", err)
	}
	if pol.Debounced() {
		p.revokeSave(tokenID)
		return nil
	}

	var firstErr error
	perms := pol.Permissions()
	for i := len(perms) - 1; i >= 0; i-- {
		if err := p.kit.RevokePermission(tokenID, perms[i]); err != nil {
			p.logger.Warn("revoke permission failed",
				zap.Uint32("token_id", tokenID),
				zap.String("permission", perms[i]),
				zap.Error(err))
			if firstErr == nil {
				firstErr = domain.Errorf(domain.ErrPermissionOperFailed, "revoke %s failed: %v", perms[i], err)
			}
		}
	}

	p.audit.Emit(domain.AuditEvent{
		Name: domain.EventTempRevoke,
		Kind: domain.AuditBehavior,
		Type: t,
		Time: time.Now(),
	})
	return firstErr
}

// revokeSave pops and cancels the oldest pending expiry of a token.
func (p *PermissionManager) revokeSave(tokenID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.save[tokenID]
	if rec == nil || len(rec.tasks) == 0 {
		p.logger.Debug("no save permission to revoke", zap.Uint32("token_id", tokenID))
		return
	}
	oldest := rec.tasks[0]
	rec.tasks = rec.tasks[1:]
	p.scheduler.Cancel(oldest)
	if len(rec.tasks) == 0 {
		delete(p.save, tokenID)
		p.logger.Info("save permission expired", zap.Uint32("token_id", tokenID))
	}
}

// revokeAllSave clears a token's save record and cancels every expiry.
func (p *PermissionManager) revokeAllSave(tokenID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.save[tokenID]
	if rec == nil {
		return
	}
	for _, key := range rec.tasks {
		p.scheduler.Cancel(key)
	}
	delete(p.save, tokenID)
}

// RevokeAllImmediate revokes every kind for a token, including the save
// counter, and cancels a pending delayed bulk revoke.
func (p *PermissionManager) RevokeAllImmediate(tokenID uint32) {
	p.scheduler.Cancel(revokeAllTaskName(tokenID))
	for _, pol := range p.policies.GetAll() {
		if pol.Debounced() {
			continue
		}
		_ = p.RevokeTemp(tokenID, pol.Type())
	}
	p.revokeAllSave(tokenID)
}

// RevokeAllDelayed schedules RevokeAllImmediate after the background grace period.
func (p *PermissionManager) RevokeAllDelayed(tokenID uint32) {
	p.scheduler.PostDelayed(revokeAllTaskName(tokenID), p.config.BackgroundRevokeDelay, func() {
		p.expire(tokenID, domain.UnknownComponent, func() { p.RevokeAllImmediate(tokenID) })
	})
}

// CancelRevokeAll cancels a pending delayed bulk revoke. Unknown tasks are a no-op.
func (p *PermissionManager) CancelRevokeAll(tokenID uint32) {
	p.scheduler.Cancel(revokeAllTaskName(tokenID))
}

// VerifySavePermission reports whether the debounced save counter is positive.
func (p *PermissionManager) VerifySavePermission(tokenID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.save[tokenID]
	return rec != nil && len(rec.tasks) > 0
}

// SaveCount returns the number of outstanding save expiries.
func (p *PermissionManager) SaveCount(tokenID uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec := p.save[tokenID]; rec != nil {
		return len(rec.tasks)
	}
	return 0
}

// ReduceAfterVerifySavePermission consumes one save grant if one is held.
func (p *PermissionManager) ReduceAfterVerifySavePermission(tokenID uint32) bool {
	if !p.VerifySavePermission(tokenID) {
		return false
	}
	p.revokeSave(tokenID)
	return true
}

// VerifyPermission reports whether the token holds the permission of a kind.
func (p *PermissionManager) VerifyPermission(tokenID uint32, t domain.ComponentType) bool {
	pol, err := p.policies.Lookup(t)
	if err != nil {
		return false
	}
	if pol.Debounced() {
		return p.VerifySavePermission(tokenID)
	}
	for _, perm := range pol.Permissions() {
		if !p.kit.VerifyPermission(tokenID, perm) {
			return false
		}
	}
	return true
}

// State returns the per-kind grant state of a token.
func (p *PermissionManager) State(tokenID uint32) domain.PermissionState {
	return domain.PermissionState{
		Location: p.VerifyPermission(tokenID, domain.LocationComponent),
		Paste:    p.VerifyPermission(tokenID, domain.PasteComponent),
		Save:     p.VerifySavePermission(tokenID),
	}
}

// expire runs a scheduled revoke and tells the listener which kind lapsed.
// UnknownComponent means every kind.
func (p *PermissionManager) expire(tokenID uint32, t domain.ComponentType, revoke func()) {
	revoke()

	if t == domain.SaveComponent && p.VerifySavePermission(tokenID) {
		return
	}

	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l(tokenID, t)
	}
}
