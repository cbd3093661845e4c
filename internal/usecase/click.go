package usecase

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/validator"
)

// clickCheck is the lock-free part of a click: the reported descriptor
// remapped and checked against current display state.
type clickCheck struct {
	descriptor *domain.Descriptor
	screen     domain.ScreenInfo
	style      validator.Result
	rect       validator.Result
}

func (m *ManagerImpl) precheckClick(caller domain.CallerInfo, t domain.ComponentType, d *domain.Descriptor) clickCheck {
	d = d.Clone()
	d.Type = t
	chk := clickCheck{descriptor: d}

	env, err := m.environment(caller, d)
	if err != nil {
		chk.style = validator.Result{Message: err.Error()}
		chk.rect = chk.style
		return chk
	}
	chk.screen = env.Screen

	m.deps.Validator.Remap(d, env)
	chk.style = m.deps.Validator.CheckStyle(d, env)
	chk.rect = m.deps.Validator.CheckRect(d, env.Screen)
	d.Valid = chk.style.Valid && chk.rect.Valid
	return chk
}

// ReportClick verifies a click against the entity's fresh descriptor and, on
// success, grants the matching temporary permission. A click that needs
// first-use consent returns ClickPendingDialog with a resume token.
func (m *ManagerImpl) ReportClick(caller domain.CallerInfo, req domain.ClickRequest) (domain.ClickResult, error) {
	if m.exiting.Load() {
		return rejected(domain.ClickRejected, domain.ErrServiceNotExist)
	}
	if req.Descriptor == nil {
		return rejected(domain.ClickRejected, domain.Errorf(domain.ErrValueInvalid, "component is empty"))
	}
	if err := m.checkMalicious(caller, "CLICK"); err != nil {
		return rejected(domain.ClickRejectedMalicious, err)
	}

	t, err := m.entityType(caller.PID, req.ScID)
	if err != nil {
		return rejected(domain.ClickRejectedInvalidComponent, err)
	}
	chk := m.precheckClick(caller, t, req.Descriptor)

	m.mu.Lock()
	entity := m.lookup(caller.PID, req.ScID)
	if entity == nil {
		m.mu.Unlock()
		return rejected(domain.ClickRejectedInvalidComponent, domain.ErrComponentNotExist)
	}
	if err := m.foregroundLocked(caller); err != nil {
		m.mu.Unlock()
		m.logger.Warn("click from background process",
			zap.Int32("pid", caller.PID), zap.Int32("sc_id", req.ScID))
		return rejected(domain.ClickRejected, err)
	}

	res, after, err := m.verifyAndGrantLocked(caller, entity, req, chk)
	m.mu.Unlock()

	if after != nil {
		return after()
	}
	return res, err
}

// verifyAndGrantLocked runs the ordered click checks. Work that must not run
// under mu is returned as after.
func (m *ManagerImpl) verifyAndGrantLocked(
	caller domain.CallerInfo,
	entity *domain.Entity,
	req domain.ClickRequest,
	chk clickCheck,
) (domain.ClickResult, func() (domain.ClickResult, error), error) {
	scID := entity.ScID
	t := entity.Type()

	if req.PreMessage != "" && !entity.AllowToBypassSecurityCheck(chk.descriptor.IsCustomizable) {
		m.logger.Error("click rejected by pre check",
			zap.Int32("sc_id", scID),
			zap.String("message", req.PreMessage))
		res, err := rejected(domain.ClickRejectedClickInvalid,
			domain.Errorf(domain.ErrClickEventInvalid, "%s", req.PreMessage))
		return res, nil, err
	}

	if !chk.style.Valid {
		m.auditInfoFailed(caller, scID, t, chk.style.Message)
		if !entity.AllowToBypassSecurityCheck(chk.style.Bypassable) {
			res, err := rejected(domain.ClickRejectedInvalidComponent,
				domain.Errorf(domain.ErrComponentInfoInvalid, "%s", chk.style.Message))
			return res, nil, err
		}
	}

	if chk.descriptor.IsClipped || chk.descriptor.HasNonCompatibleChange {
		m.emit(domain.AuditEvent{
			Name:  domain.EventClipCheckFailed,
			Kind:  domain.AuditSecurity,
			PID:   caller.PID,
			UID:   caller.UID,
			ScID:  scID,
			Type:  t,
			Scene: "CLICK",
		})
	}

	if !chk.rect.Valid {
		m.logger.Error("compare component info failed",
			zap.Int32("sc_id", scID),
			zap.String("message", chk.rect.Message))
		m.auditInfoFailed(caller, scID, t, chk.rect.Message)
		if !entity.AllowToBypassSecurityCheck(chk.rect.Bypassable) {
			res, err := rejected(domain.ClickRejectedInvalidComponent,
				domain.Errorf(domain.ErrComponentInfoInvalid, "%s", chk.rect.Message))
			return res, nil, err
		}
	}

	if err := m.enhanceComponent(caller, scID, chk.descriptor, req.Raw, "CLICK"); err != nil {
		res, err := rejected(domain.ClickRejectedMalicious, err)
		return res, nil, err
	}
	entity.Descriptor = chk.descriptor

	if err := m.checkClickInfo(caller, entity, req.Click, chk.screen); err != nil {
		res, err := rejected(domain.ClickRejectedClickInvalid, err)
		return res, nil, err
	}

	return m.startDialogLocked(caller, entity, req.Callback, chk.screen.FoldOffsetY)
}

// checkClickInfo runs the click verifier and the click integrity hook.
func (m *ManagerImpl) checkClickInfo(caller domain.CallerInfo, entity *domain.Entity, click domain.ClickEvent, screen domain.ScreenInfo) error {
	err := m.deps.Verifier.Verify(entity.Descriptor, click, screen)
	if err == nil && m.deps.Enhance != nil {
		if herr := m.deps.Enhance.CheckClick(caller.PID, click); herr != nil {
			err = domain.Errorf(domain.ErrClickExtraCheckFailed, "%v", herr)
		}
	}
	if err == nil {
		return nil
	}

	m.logger.Error("click info check failed",
		zap.Int32("pid", caller.PID),
		zap.Int32("sc_id", entity.ScID),
		zap.Error(err))
	m.emit(domain.AuditEvent{
		Name:    domain.EventClickInfoCheckFailed,
		Kind:    domain.AuditSecurity,
		PID:     caller.PID,
		UID:     caller.UID,
		ScID:    entity.ScID,
		Type:    entity.Type(),
		Scene:   "CLICK",
		Message: domain.MessageOf(err),
	})
	if domain.CodeOf(err) == domain.CodeClickExtraCheckFailed {
		m.deps.Malicious.Add(caller.PID, caller.UID)
	}
	return domain.Errorf(domain.ErrClickEventInvalid, "%s", domain.MessageOf(err))
}

// startDialogLocked pauses on first-use consent or grants directly.
func (m *ManagerImpl) startDialogLocked(
	caller domain.CallerInfo,
	entity *domain.Entity,
	cb domain.DialogCallback,
	foldOffsetY float64,
) (domain.ClickResult, func() (domain.ClickResult, error), error) {
	pol, err := m.deps.Policies.Lookup(entity.Type())
	if err != nil {
		res, err := rejected(domain.ClickRejected, domain.Errorf(domain.ErrValueInvalid, "%v", err))
		return res, nil, err
	}

	req := domain.DialogRequest{
		TokenID:     entity.TokenID,
		PID:         entity.PID,
		ScID:        entity.ScID,
		Type:        entity.Type(),
		DisplayID:   entity.Descriptor.DisplayID,
		WindowID:    entity.Descriptor.WindowID,
		CrossAxis:   entity.Descriptor.CrossAxis,
		FoldOffsetY: foldOffsetY,
	}

	mask := pol.FirstUseMask()
	if mask != 0 && m.deps.Consent != nil {
		if !m.deps.Consent.Consented(entity.TokenID, mask) {
			token := m.deps.Consent.Begin(req, mask, cb)
			m.logger.Info("start first use dialog, click resumes after dialog closed",
				zap.Int32("sc_id", entity.ScID),
				zap.String("resume_token", token))
			return domain.ClickResult{}, func() (domain.ClickResult, error) {
				if err := m.deps.Consent.Launch(token); err != nil {
					m.logger.Error("start dialog failed", zap.Error(err))
					return rejected(domain.ClickRejected, err)
				}
				return domain.ClickResult{State: domain.ClickPendingDialog, ResumeToken: token}, nil
			}, nil
		}

		if entity.AllowToShowToast() {
			res, err := m.grantLocked(caller, entity)
			if err != nil {
				return res, nil, err
			}
			return res, func() (domain.ClickResult, error) {
				m.deps.Consent.Toast(req)
				return res, nil
			}, nil
		}
	}

	res, err := m.grantLocked(caller, entity)
	return res, nil, err
}

// grantLocked grants the entity's permission and marks it granted.
func (m *ManagerImpl) grantLocked(caller domain.CallerInfo, entity *domain.Entity) (domain.ClickResult, error) {
	if err := m.deps.Permissions.GrantTemp(entity.TokenID, entity.Type()); err != nil {
		m.emit(domain.AuditEvent{
			Name:    domain.EventTempGrantFailed,
			Kind:    domain.AuditFault,
			PID:     caller.PID,
			UID:     caller.UID,
			ScID:    entity.ScID,
			Type:    entity.Type(),
			Message: err.Error(),
		})
		return rejected(domain.ClickRejected, err)
	}

	entity.Granted = true
	m.emit(domain.AuditEvent{
		Name: domain.EventTempGrantSuccess,
		Kind: domain.AuditBehavior,
		PID:  caller.PID,
		UID:  caller.UID,
		ScID: entity.ScID,
		Type: entity.Type(),
	})
	return domain.ClickResult{State: domain.ClickGranted}, nil
}

// CompleteDialog resumes a click paused on the first-use dialog.
func (m *ManagerImpl) CompleteDialog(resumeToken string, accepted bool) (domain.ClickResult, error) {
	if m.deps.Consent == nil {
		return rejected(domain.ClickRejected, domain.ErrServiceNotExist)
	}
	p, ok := m.deps.Consent.Take(resumeToken)
	if !ok {
		return rejected(domain.ClickRejected, domain.Errorf(domain.ErrValueInvalid, "unknown resume token"))
	}

	res, err := m.resume(p, accepted)
	if p.callback != nil {
		p.callback(res, err)
	}
	return res, err
}

func (m *ManagerImpl) resume(p *pendingDialog, accepted bool) (domain.ClickResult, error) {
	req := p.request
	if !accepted {
		m.logger.Info("first use dialog declined",
			zap.Int32("pid", req.PID),
			zap.Int32("sc_id", req.ScID))
		return domain.ClickResult{State: domain.ClickRejected, Message: "user declined"}, nil
	}

	m.deps.Consent.Record(req.TokenID, p.mask)

	m.mu.Lock()
	defer m.mu.Unlock()
	entity := m.lookup(req.PID, req.ScID)
	if entity == nil {
		return rejected(domain.ClickRejectedInvalidComponent, domain.ErrComponentNotExist)
	}
	caller := domain.CallerInfo{TokenID: entity.TokenID, PID: entity.PID, UID: entity.UID}
	return m.grantLocked(caller, entity)
}

func (m *ManagerImpl) auditInfoFailed(caller domain.CallerInfo, scID int32, t domain.ComponentType, msg string) {
	m.emit(domain.AuditEvent{
		Name:    domain.EventComponentInfoCheckFailed,
		Kind:    domain.AuditSecurity,
		PID:     caller.PID,
		UID:     caller.UID,
		ScID:    scID,
		Type:    t,
		Scene:   "CLICK",
		Message: msg,
	})
}

func rejected(state domain.ClickState, err error) (domain.ClickResult, error) {
	return domain.ClickResult{State: state, Message: domain.MessageOf(err)}, err
}
