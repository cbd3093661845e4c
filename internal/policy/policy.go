// Package policy implements the Strategy pattern for component-kind rules.
// Each kind (location, paste, save) has its own policy defining what a click
// unlocks and which appearance minimums apply.
package policy

import (
	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// Appearance minimums shared by all kinds.
const (
	MinFontSizeWithoutIcon = 12.0
	MinFontSizeWithIcon    = 10.0
	MinIconSize            = 12.0
	MinPadding             = 0.0
	MinPaddingWithoutBg    = 4.0
	MinTextIconSpace       = 0.0
)

// First-use disclosure bits recorded per owner token.
const (
	LocationFirstUseMask uint64 = 1 << 0
	SaveFirstUseMask     uint64 = 1 << 1
)

// ComponentPolicy defines the strategy interface for one component kind.
type ComponentPolicy interface {
	// Type returns the component kind this policy governs.
	Type() domain.ComponentType

	// Name returns human-readable name for display.
	Name() string

	// Permissions returns the platform permissions granted together, in grant order.
	// A failure granting a later entry rolls back the earlier ones.
	Permissions() []string

	// Debounced reports whether grants are counted and expire per click
	// instead of being held until revoked.
	Debounced() bool

	// FirstUseMask returns the consent bit required before the first grant, or 0.
	FirstUseMask() uint64

	// MinFontSize returns the minimum label size.
	MinFontSize(hasIcon bool) float64

	// MinIconSize returns the minimum icon size.
	MinIconSize() float64

	// MinPaddingWithoutBackground returns the padding floor for background-less components.
	MinPaddingWithoutBackground() float64
}

// basePolicy carries the minimums common to every kind.
type basePolicy struct{}

func (basePolicy) MinFontSize(hasIcon bool) float64 {
	if hasIcon {
		return MinFontSizeWithIcon
	}
	return MinFontSizeWithoutIcon
}

func (basePolicy) MinIconSize() float64 {
	return MinIconSize
}

func (basePolicy) MinPaddingWithoutBackground() float64 {
	return MinPaddingWithoutBg
}
