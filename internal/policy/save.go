package policy

import "github.com/eliteGoblin/focusd/sec_comp/internal/domain"

// CustomizeSaveButtonPermission marks callers allowed to custom-authorize save buttons.
const CustomizeSaveButtonPermission = "permission.CUSTOMIZE_SAVE_BUTTON"

// SavePolicy implements ComponentPolicy for the save button.
// Save holds no platform permission: the grant is an in-memory capability
// window that the file-save path checks via VerifySavePermission.
type SavePolicy struct {
	basePolicy
}

// NewSavePolicy creates the save button policy.
func NewSavePolicy() *SavePolicy {
	return &SavePolicy{}
}

func (p *SavePolicy) Type() domain.ComponentType {
	return domain.SaveComponent
}

func (p *SavePolicy) Name() string {
	return "Save"
}

func (p *SavePolicy) Permissions() []string {
	return nil
}

func (p *SavePolicy) Debounced() bool {
	return true
}

func (p *SavePolicy) FirstUseMask() uint64 {
	return SaveFirstUseMask
}
