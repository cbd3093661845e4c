// Package validator decides whether a component's reported appearance could
// deceive the user. All checks are pure functions over the descriptor and the
// display state supplied by the caller.
package validator

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
)

// MaxTransparentAlpha is the lowest alpha a label, icon or background may use.
const MaxTransparentAlpha uint8 = 0x99

// Config holds validator tunables.
type Config struct {
	AbsoluteTolerance float64        // Fixed screen-bound tolerance in pixels
	PercentTolerance  float64        // Tolerance as a fraction of the dimension
	TooLargeRatio     float64        // Screen share that is logged as suspicious
	BackgroundAllow   []domain.Color // Exact background colors exempt from the alpha rule
}

// DefaultConfig returns default validator configuration.
func DefaultConfig() Config {
	return Config{
		AbsoluteTolerance: 1.0,
		PercentTolerance:  0.001,
		TooLargeRatio:     0.3,
	}
}

// Env is the display and caller context a descriptor is validated against.
type Env struct {
	Screen    domain.ScreenInfo
	Window    domain.WindowInfo
	HasWindow bool
	// Trusted marks a system caller exempt from background rules.
	Trusted bool
	// AllowNoBackground exempts the component from the background requirement.
	AllowNoBackground bool
}

// Result is the outcome of a validation pass.
type Result struct {
	Valid   bool
	Message string
	// Bypassable marks a failure a custom-authorized save entity may override.
	Bypassable bool
	TooLarge   bool
}

func ok() Result {
	return Result{Valid: true}
}

func fail(d *domain.Descriptor, format string, args ...any) Result {
	return Result{
		Message:    fmt.Sprintf(format, args...),
		Bypassable: d.IsCustomizable,
	}
}

// Validator checks component descriptors.
type Validator struct {
	config   Config
	policies *policy.Registry
	allow    map[domain.Color]struct{}
	logger   *zap.Logger
}

// New creates a validator.
func New(config Config, policies *policy.Registry, logger *zap.Logger) *Validator {
	allow := make(map[domain.Color]struct{}, len(config.BackgroundAllow))
	for _, c := range config.BackgroundAllow {
		allow[c] = struct{}{}
	}
	return &Validator{
		config:   config,
		policies: policies,
		allow:    allow,
		logger:   logger,
	}
}

// Validate remaps d into physical coordinates, runs every style and
// placement rule, and records the outcome in d.Valid.
func (v *Validator) Validate(d *domain.Descriptor, env Env) Result {
	v.Remap(d, env)

	res := v.CheckStyle(d, env)
	if res.Valid {
		res = v.CheckRect(d, env.Screen)
	}
	d.Valid = res.Valid
	return res
}

// Remap applies the window render scale to d in place and records the
// effective scale. Unscaled windows leave d untouched with scale 1.
func (v *Validator) Remap(d *domain.Descriptor, env Env) {
	d.Scale = 1.0
	if !env.HasWindow {
		return
	}

	sx, sy := env.Window.ScaleX, env.Window.ScaleY
	scaled := func(s float64) bool {
		return !domain.IsEqual(s, 1.0) && !domain.IsEqual(s, 0.0)
	}
	if !scaled(sx) && !scaled(sy) && !env.Window.Compatible {
		return
	}
	if domain.IsEqual(sx, 0.0) {
		sx = 1.0
	}
	if domain.IsEqual(sy, 0.0) {
		sy = 1.0
	}

	origin := d.WindowRect
	target := env.Window.Rect
	if target.IsEmpty() {
		target = origin
		target.Width *= sx
		target.Height *= sy
	}

	d.Rect.X = target.X + (d.Rect.X-origin.X)*sx
	d.Rect.Y = target.Y + (d.Rect.Y-origin.Y)*sy
	d.Rect.Width *= sx
	d.Rect.Height *= sy
	d.WindowRect = target
	d.Scale = math.Max(sx, sy)

	v.logger.Debug("remapped component rect",
		zap.Float64("x", d.Rect.X),
		zap.Float64("y", d.Rect.Y),
		zap.Float64("width", d.Rect.Width),
		zap.Float64("height", d.Rect.Height),
		zap.Float64("scale", d.Scale))
}

// CheckStyle runs the appearance rules. It returns the first failure.
func (v *Validator) CheckStyle(d *domain.Descriptor, env Env) Result {
	p, err := v.policies.Lookup(d.Type)
	if err != nil {
		return Result{Message: err.Error()}
	}

	if d.Rect.Width <= 0 || d.Rect.Height <= 0 {
		return fail(d, "width or height is <= 0, width = %f, height = %f", d.Rect.Width, d.Rect.Height)
	}

	if d.ParentEffect {
		return fail(d, "the parents of security component have invalid effect")
	}

	minPadding := policy.MinPadding
	if !d.HasBackground() {
		minPadding = p.MinPaddingWithoutBackground()
	}
	if d.Padding.Min() < minPadding {
		return fail(d, "padding is too small, padding(top = %f, bottom = %f, left = %f, right = %f)",
			d.Padding.Top, d.Padding.Bottom, d.Padding.Left, d.Padding.Right)
	}

	if d.TextIconSpace < policy.MinTextIconSpace {
		return fail(d, "textIconSpace is too small, textIconSpace = %f", d.TextIconSpace)
	}

	if d.HasText() && d.FontColor.Alpha() < MaxTransparentAlpha {
		return fail(d, "font color is too transparent, font color = %s", d.FontColor.Hex())
	}

	if d.HasIcon() && d.IconColor.Alpha() < MaxTransparentAlpha {
		return fail(d, "icon color is too transparent, icon color = %s", d.IconColor.Hex())
	}

	if !d.HasText() && !d.HasIcon() {
		return fail(d, "both text and icon do not exist")
	}

	if d.HasText() {
		if minSize := p.MinFontSize(d.HasIcon()); d.FontSize < minSize {
			return fail(d, "font size is too small, font size = %f", d.FontSize)
		}
	}

	if d.HasIcon() && d.IconSize < p.MinIconSize() {
		return fail(d, "icon size is too small, icon size = %f", d.IconSize)
	}

	if !d.HasBackground() {
		if !env.AllowNoBackground && !env.Trusted {
			return fail(d, "background is not set")
		}
		return ok()
	}

	if d.BackgroundColor.Alpha() < MaxTransparentAlpha && !env.Trusted && !v.allowed(d.BackgroundColor) {
		return fail(d, "background color is too transparent, background color = %s", d.BackgroundColor.Hex())
	}

	if d.BackgroundColor.Alpha() != 0 {
		if d.HasIcon() && d.IconColor == d.BackgroundColor {
			return fail(d, "icon color is similar with background color, icon color = %s, background color = %s",
				d.IconColor.Hex(), d.BackgroundColor.Hex())
		}
		if d.HasText() && d.FontColor == d.BackgroundColor {
			return fail(d, "font color is similar with background color, font color = %s, background color = %s",
				d.FontColor.Hex(), d.BackgroundColor.Hex())
		}
	}

	return ok()
}

func (v *Validator) allowed(c domain.Color) bool {
	_, found := v.allow[c]
	return found
}
