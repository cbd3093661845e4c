package policy

import "github.com/eliteGoblin/focusd/sec_comp/internal/domain"

// PastePermission unlocks clipboard reads.
const PastePermission = "permission.SECURE_PASTE"

// PastePolicy implements ComponentPolicy for the paste button.
// Paste needs no first-use disclosure.
type PastePolicy struct {
	basePolicy
}

// NewPastePolicy creates the paste button policy.
func NewPastePolicy() *PastePolicy {
	return &PastePolicy{}
}

func (p *PastePolicy) Type() domain.ComponentType {
	return domain.PasteComponent
}

func (p *PastePolicy) Name() string {
	return "Paste"
}

func (p *PastePolicy) Permissions() []string {
	return []string{PastePermission}
}

func (p *PastePolicy) Debounced() bool {
	return false
}

func (p *PastePolicy) FirstUseMask() uint64 {
	return 0
}
