package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

func TestStaticDisplayProvider_ScreenInfo(t *testing.T) {
	p := NewStaticDisplayProvider([]DisplaySpec{
		{ID: 0, Width: 1080, Height: 2340},
		{ID: 1, Width: 2200, Height: 2480, CrossWidth: 2200, CrossHeight: 1240, FoldOffsetY: 1240},
		{ID: 2, Width: 0, Height: 100},
	})

	tests := []struct {
		name    string
		id      uint64
		cross   domain.CrossAxisState
		want    domain.ScreenInfo
		wantErr bool
	}{
		{"flat", 0, domain.CrossAxisInvalid, domain.ScreenInfo{Width: 1080, Height: 2340}, false},
		{"flat ignores cross", 0, domain.CrossAxisCross, domain.ScreenInfo{Width: 1080, Height: 2340}, false},
		{"fold unfolded", 1, domain.CrossAxisNoCross, domain.ScreenInfo{Width: 2200, Height: 2480}, false},
		{"fold cross", 1, domain.CrossAxisCross, domain.ScreenInfo{Width: 2200, Height: 1240, FoldOffsetY: 1240}, false},
		{"zero size", 2, domain.CrossAxisInvalid, domain.ScreenInfo{}, true},
		{"unknown", 9, domain.CrossAxisInvalid, domain.ScreenInfo{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ScreenInfo(tt.id, tt.cross)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticDisplayProvider_SetDisplay(t *testing.T) {
	p := NewStaticDisplayProvider(nil)
	_, err := p.ScreenInfo(3, domain.CrossAxisInvalid)
	require.Error(t, err)

	p.SetDisplay(DisplaySpec{ID: 3, Width: 800, Height: 600, Round: true})

	got, err := p.ScreenInfo(3, domain.CrossAxisInvalid)
	require.NoError(t, err)
	assert.True(t, got.Round)
}

func TestWindowStore(t *testing.T) {
	s := NewWindowStore()
	info := domain.WindowInfo{ScaleX: 0.5, ScaleY: 0.5, Rect: domain.Rect{Width: 540, Height: 1170}}

	_, err := s.WindowInfo(1)
	assert.Error(t, err)

	s.Set(1, info)
	got, err := s.WindowInfo(1)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	s.Remove(1)
	_, err = s.WindowInfo(1)
	assert.Error(t, err)
}
