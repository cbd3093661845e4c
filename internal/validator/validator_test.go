package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
)

const (
	white domain.Color = 0xFFFFFFFF
	blue  domain.Color = 0xFF0A59F7
)

var phoneScreen = domain.ScreenInfo{Width: 1080, Height: 2340}

func newTestValidator(allow ...domain.Color) *Validator {
	cfg := DefaultConfig()
	cfg.BackgroundAllow = allow
	return New(cfg, policy.NewRegistry(), zap.NewNop())
}

// validDescriptor returns a paste button that passes every rule.
func validDescriptor() *domain.Descriptor {
	return &domain.Descriptor{
		Type:            domain.PasteComponent,
		Rect:            domain.Rect{X: 100, Y: 100, Width: 160, Height: 40},
		WindowRect:      domain.Rect{X: 0, Y: 0, Width: 1080, Height: 2340},
		TextID:          0,
		IconID:          0,
		Background:      domain.BackgroundCapsule,
		FontSize:        16,
		IconSize:        16,
		FontColor:       white,
		IconColor:       white,
		BackgroundColor: blue,
		Padding:         domain.Padding{Top: 4, Right: 4, Bottom: 4, Left: 4},
		TextIconSpace:   4,
	}
}

func TestValidate_Baseline(t *testing.T) {
	v := newTestValidator()
	d := validDescriptor()

	res := v.Validate(d, Env{Screen: phoneScreen})

	assert.True(t, res.Valid, res.Message)
	assert.True(t, d.Valid)
	assert.Equal(t, 1.0, d.Scale)
}

func TestCheckStyle_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *domain.Descriptor)
		env     Env
		valid   bool
		message string
	}{
		{"zero width", func(d *domain.Descriptor) { d.Rect.Width = 0 }, Env{}, false, "width or height"},
		{"negative height", func(d *domain.Descriptor) { d.Rect.Height = -1 }, Env{}, false, "width or height"},
		{"parent effect", func(d *domain.Descriptor) { d.ParentEffect = true }, Env{}, false, "invalid effect"},
		{"negative padding", func(d *domain.Descriptor) { d.Padding.Left = -1 }, Env{}, false, "padding is too small"},
		{"negative text icon space", func(d *domain.Descriptor) { d.TextIconSpace = -0.5 }, Env{}, false, "textIconSpace"},
		{"transparent font", func(d *domain.Descriptor) { d.FontColor = 0x98FFFFFF }, Env{}, false, "font color is too transparent"},
		{"opaque enough font", func(d *domain.Descriptor) { d.FontColor = 0x99FFFFFF }, Env{}, true, ""},
		{"transparent icon", func(d *domain.Descriptor) { d.IconColor = 0x10FFFFFF }, Env{}, false, "icon color is too transparent"},
		{"transparent icon ignored without icon", func(d *domain.Descriptor) {
			d.IconID = domain.NoIcon
			d.IconColor = 0
			d.FontSize = 12
		}, Env{}, true, ""},
		{"no text no icon", func(d *domain.Descriptor) {
			d.TextID = domain.NoText
			d.IconID = domain.NoIcon
		}, Env{}, false, "both text and icon"},
		{"font too small without icon", func(d *domain.Descriptor) {
			d.IconID = domain.NoIcon
			d.FontSize = 11
		}, Env{}, false, "font size is too small"},
		{"font 10 allowed with icon", func(d *domain.Descriptor) { d.FontSize = 10 }, Env{}, true, ""},
		{"font 9 rejected with icon", func(d *domain.Descriptor) { d.FontSize = 9 }, Env{}, false, "font size is too small"},
		{"icon too small", func(d *domain.Descriptor) { d.IconSize = 11.5 }, Env{}, false, "icon size is too small"},
		{"no background untrusted", func(d *domain.Descriptor) { d.Background = domain.NoBackground }, Env{}, false, "background is not set"},
		{"no background trusted", func(d *domain.Descriptor) { d.Background = domain.NoBackground }, Env{Trusted: true}, true, ""},
		{"no background exempted needs padding", func(d *domain.Descriptor) {
			d.Background = domain.NoBackground
			d.Padding.Top = 3
		}, Env{AllowNoBackground: true}, false, "padding is too small"},
		{"transparent background", func(d *domain.Descriptor) { d.BackgroundColor = 0x500A59F7 }, Env{}, false, "background color is too transparent"},
		{"transparent background trusted", func(d *domain.Descriptor) { d.BackgroundColor = 0x500A59F7 }, Env{Trusted: true}, true, ""},
		{"icon equals background", func(d *domain.Descriptor) { d.IconColor = blue }, Env{}, false, "icon color is similar"},
		{"icon differs by one", func(d *domain.Descriptor) { d.IconColor = blue + 1 }, Env{}, true, ""},
		{"font equals background", func(d *domain.Descriptor) { d.FontColor = blue }, Env{}, false, "font color is similar"},
		{"equal colors on fully transparent background", func(d *domain.Descriptor) {
			d.BackgroundColor = 0x00000000
			d.IconColor = 0xFF000000
			d.FontColor = 0xFF000000
		}, Env{Trusted: true}, true, ""},
	}

	v := newTestValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(d)

			res := v.CheckStyle(d, tt.env)

			assert.Equal(t, tt.valid, res.Valid, res.Message)
			if tt.message != "" {
				assert.Contains(t, res.Message, tt.message)
			}
		})
	}
}

func TestCheckStyle_NonPositiveSizeAlwaysInvalid(t *testing.T) {
	v := newTestValidator()
	sizes := [][2]float64{{0, 10}, {10, 0}, {-5, 10}, {10, -0.001}, {0, 0}}

	for _, s := range sizes {
		d := validDescriptor()
		d.Rect.Width, d.Rect.Height = s[0], s[1]

		res := v.Validate(d, Env{Screen: phoneScreen, Trusted: true, AllowNoBackground: true})
		assert.False(t, res.Valid, "size %v", s)
		assert.False(t, d.Valid)
	}
}

func TestCheckStyle_AllowListedBackground(t *testing.T) {
	systemBg := domain.Color(0x33000000)
	v := newTestValidator(systemBg)

	d := validDescriptor()
	d.BackgroundColor = systemBg
	assert.True(t, v.CheckStyle(d, Env{}).Valid)

	d.BackgroundColor = systemBg + 1
	assert.False(t, v.CheckStyle(d, Env{}).Valid)
}

func TestCheckStyle_UnknownType(t *testing.T) {
	v := newTestValidator()
	d := validDescriptor()
	d.Type = domain.UnknownComponent

	res := v.CheckStyle(d, Env{})
	assert.False(t, res.Valid)
}

func TestCheckStyle_Bypassable(t *testing.T) {
	v := newTestValidator()

	d := validDescriptor()
	d.IconSize = 1
	assert.False(t, v.CheckStyle(d, Env{}).Bypassable)

	d.IsCustomizable = true
	res := v.CheckStyle(d, Env{})
	assert.False(t, res.Valid)
	assert.True(t, res.Bypassable)
}

func TestRemap_ScaledWindow(t *testing.T) {
	v := newTestValidator()
	d := validDescriptor()
	d.WindowRect = domain.Rect{X: 100, Y: 200, Width: 500, Height: 1000}
	d.Rect = domain.Rect{X: 150, Y: 300, Width: 50, Height: 20}

	v.Remap(d, Env{HasWindow: true, Window: domain.WindowInfo{ScaleX: 2, ScaleY: 1.5}})

	assert.Equal(t, 200.0, d.Rect.X)
	assert.Equal(t, 350.0, d.Rect.Y)
	assert.Equal(t, 100.0, d.Rect.Width)
	assert.Equal(t, 30.0, d.Rect.Height)
	assert.Equal(t, 1000.0, d.WindowRect.Width)
	assert.Equal(t, 1500.0, d.WindowRect.Height)
	assert.Equal(t, 2.0, d.Scale)
}

func TestRemap_WindowOffset(t *testing.T) {
	v := newTestValidator()
	d := validDescriptor()
	d.WindowRect = domain.Rect{X: 0, Y: 0, Width: 500, Height: 500}
	d.Rect = domain.Rect{X: 10, Y: 10, Width: 50, Height: 20}

	v.Remap(d, Env{HasWindow: true, Window: domain.WindowInfo{
		ScaleX: 0.5, ScaleY: 0.5,
		Rect: domain.Rect{X: 300, Y: 400, Width: 250, Height: 250},
	}})

	assert.Equal(t, 305.0, d.Rect.X)
	assert.Equal(t, 405.0, d.Rect.Y)
	assert.Equal(t, 25.0, d.Rect.Width)
	assert.Equal(t, domain.Rect{X: 300, Y: 400, Width: 250, Height: 250}, d.WindowRect)
	assert.Equal(t, 0.5, d.Scale)
}

func TestRemap_FullScreenOrUnsetIsNoop(t *testing.T) {
	v := newTestValidator()

	for _, scale := range []float64{1.0, 0} {
		d := validDescriptor()
		before := d.Rect

		v.Remap(d, Env{HasWindow: true, Window: domain.WindowInfo{ScaleX: scale, ScaleY: scale}})

		assert.Equal(t, before, d.Rect)
		assert.Equal(t, 1.0, d.Scale)
	}
}

func TestRemap_CompatibleModeRemapsAtUnitScale(t *testing.T) {
	v := newTestValidator()
	d := validDescriptor()
	d.Rect = domain.Rect{X: 10, Y: 10, Width: 50, Height: 20}

	v.Remap(d, Env{HasWindow: true, Window: domain.WindowInfo{
		ScaleX: 1, ScaleY: 1, Compatible: true,
		Rect: domain.Rect{X: 100, Y: 100, Width: 1080, Height: 2340},
	}})

	require.Equal(t, 110.0, d.Rect.X)
	assert.Equal(t, 110.0, d.Rect.Y)
	assert.Equal(t, 1.0, d.Scale)
}
