package validator

import (
	"math"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// tolerance returns the bound slack for one dimension.
func (v *Validator) tolerance(dimension float64) float64 {
	return math.Max(v.config.AbsoluteTolerance, dimension*v.config.PercentTolerance)
}

// CheckRect verifies the component lies on screen and inside its window.
// Wearable components are checked against the inscribed circle.
func (v *Validator) CheckRect(d *domain.Descriptor, screen domain.ScreenInfo) Result {
	r := d.Rect
	if r.Width <= 0 || r.Height <= 0 {
		return fail(d, "width or height is <= 0, width = %f, height = %f", r.Width, r.Height)
	}
	if screen.Width <= 0 || screen.Height <= 0 {
		return fail(d, "screen size is invalid, width = %f, height = %f", screen.Width, screen.Height)
	}

	if screen.Round || d.IsWearable {
		if !v.insideRoundScreen(r, screen) {
			return fail(d, "security component is out of screen, security component(x = %f, y = %f, "+
				"width = %f, height = %f), current screen(radius = %f)",
				r.X, r.Y, r.Width, r.Height, math.Min(screen.Width, screen.Height)/2)
		}
	} else {
		tx, ty := v.tolerance(screen.Width), v.tolerance(screen.Height)
		if domain.GreatNotEqual(-tx, r.X) || domain.GreatNotEqual(-ty, r.Y) ||
			domain.GreatNotEqual(r.X+r.Width, screen.Width+tx) ||
			domain.GreatNotEqual(r.Y+r.Height, screen.Height+ty) {
			return fail(d, "security component is out of screen, security component(x = %f, y = %f, "+
				"width = %f, height = %f), current screen(width = %f, height = %f)",
				r.X, r.Y, r.Width, r.Height, screen.Width, screen.Height)
		}
	}

	w := d.WindowRect
	scale := math.Max(d.Scale, 1.0)
	wx, wy := v.tolerance(w.Width)*scale, v.tolerance(w.Height)*scale
	if domain.GreatNotEqual(w.X-wx, r.X) || domain.GreatNotEqual(w.Y-wy, r.Y) ||
		domain.GreatNotEqual(r.X+r.Width, w.X+w.Width+wx) ||
		domain.GreatNotEqual(r.Y+r.Height, w.Y+w.Height+wy) {
		return fail(d, "security component is out of window, security component(x = %f, y = %f, "+
			"width = %f, height = %f), current window(x = %f, y = %f, width = %f, height = %f)",
			r.X, r.Y, r.Width, r.Height, w.X, w.Y, w.Width, w.Height)
	}

	res := ok()
	if domain.GreatOrEqual(r.Area(), screen.Width*screen.Height*v.config.TooLargeRatio) {
		v.logger.Warn("security component is too large",
			zap.Float64("width", r.Width),
			zap.Float64("height", r.Height),
			zap.Float64("screen_width", screen.Width),
			zap.Float64("screen_height", screen.Height))
		res.TooLarge = true
	}
	return res
}

// insideRoundScreen tests every corner against the inscribed circle. Rounded
// corners are pulled in along the diagonal by the part of the radius that
// lies outside the drawn arc.
func (v *Validator) insideRoundScreen(r domain.Rect, screen domain.ScreenInfo) bool {
	cx, cy := screen.Width/2, screen.Height/2
	limit := math.Min(screen.Width, screen.Height)/2 + v.tolerance(math.Min(screen.Width, screen.Height))

	inset := func(radius float64) float64 {
		return radius * (1 - math.Sqrt2/2)
	}
	corners := []struct{ x, y float64 }{
		{r.X + inset(r.BorderRadius.LeftTop), r.Y + inset(r.BorderRadius.LeftTop)},
		{r.X + r.Width - inset(r.BorderRadius.RightTop), r.Y + inset(r.BorderRadius.RightTop)},
		{r.X + inset(r.BorderRadius.LeftBottom), r.Y + r.Height - inset(r.BorderRadius.LeftBottom)},
		{r.X + r.Width - inset(r.BorderRadius.RightBottom), r.Y + r.Height - inset(r.BorderRadius.RightBottom)},
	}
	for _, c := range corners {
		if domain.GreatNotEqual(math.Hypot(c.x-cx, c.y-cy), limit) {
			return false
		}
	}
	return true
}
