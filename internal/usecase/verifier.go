package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// Activation key codes accepted for key clicks.
const (
	KeySpace       int32 = 2050
	KeyEnter       int32 = 2054
	KeyNumpadEnter int32 = 2119
)

// MaxClickExtraSize bounds the opaque integrity payload of a click.
const MaxClickExtraSize = 0x1000

// VerifierConfig holds click check settings.
type VerifierConfig struct {
	TouchWindow    time.Duration // Max age of a click timestamp
	TouchTolerance float64       // Containment slack on each rect edge
}

// DefaultVerifierConfig returns default click check configuration.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		TouchWindow:    1000 * time.Millisecond,
		TouchTolerance: 1.0,
	}
}

// ClickVerifier runs the per-click checks against the current descriptor.
type ClickVerifier struct {
	config VerifierConfig
	clock  func() time.Time
}

// NewClickVerifier creates a click verifier. A nil clock uses time.Now.
func NewClickVerifier(config VerifierConfig, clock func() time.Time) *ClickVerifier {
	if clock == nil {
		clock = time.Now
	}
	return &ClickVerifier{config: config, clock: clock}
}

// Verify checks click freshness and placement. It returns ErrClickEventInvalid
// with a diagnostic message on failure.
func (v *ClickVerifier) Verify(d *domain.Descriptor, click domain.ClickEvent, screen domain.ScreenInfo) error {
	if len(click.Extra) > MaxClickExtraSize {
		return domain.Errorf(domain.ErrClickEventInvalid, "click extra data too large, size = %d", len(click.Extra))
	}

	switch click.Kind {
	case domain.PointClick:
		if err := v.checkTimestamp(click.Timestamp); err != nil {
			return err
		}
		y := click.Y
		if d.CrossAxis == domain.CrossAxisCross {
			y += screen.FoldOffsetY
		}
		if !d.Rect.ContainsPoint(click.X, y, v.config.TouchTolerance) {
			return domain.Errorf(domain.ErrClickEventInvalid,
				"touch point is not in component rect, touch(x = %f, y = %f), rect(x = %f, y = %f, width = %f, height = %f)",
				click.X, y, d.Rect.X, d.Rect.Y, d.Rect.Width, d.Rect.Height)
		}
		return nil

	case domain.KeyClick:
		switch click.KeyCode {
		case KeySpace, KeyEnter, KeyNumpadEnter:
			return nil
		}
		return domain.Errorf(domain.ErrClickEventInvalid, "key code %d is not an activation key", click.KeyCode)

	case domain.AccessibilityClick:
		if err := v.checkTimestamp(click.Timestamp); err != nil {
			return err
		}
		if d.NodeID != 0 && click.ComponentID != d.NodeID {
			return domain.Errorf(domain.ErrClickEventInvalid,
				"accessibility target %d does not match component %d", click.ComponentID, d.NodeID)
		}
		return nil
	}

	return domain.Errorf(domain.ErrClickEventInvalid, "unknown click kind %d", click.Kind)
}

// checkTimestamp accepts now-window <= ts <= now.
func (v *ClickVerifier) checkTimestamp(ts time.Time) error {
	now := v.clock()
	if ts.IsZero() || ts.Before(now.Add(-v.config.TouchWindow)) || ts.After(now) {
		return domain.Errorf(domain.ErrClickEventInvalid, "click timestamp invalid, timestamp = %d, now = %d",
			ts.UnixMilli(), now.UnixMilli())
	}
	return nil
}
