package infra

import (
	"fmt"
	"sync"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// DisplaySpec describes one physical display.
type DisplaySpec struct {
	ID     uint64  `toml:"id"`
	Width  float64 `toml:"width"`
	Height float64 `toml:"height"`
	Round  bool    `toml:"round"`
	// Virtual screen used while a foldable is in the cross-axis layout.
	CrossWidth  float64 `toml:"cross_width"`
	CrossHeight float64 `toml:"cross_height"`
	FoldOffsetY float64 `toml:"fold_offset_y"`
}

// StaticDisplayProvider implements domain.DisplayProvider from configured displays.
type StaticDisplayProvider struct {
	mu       sync.RWMutex
	displays map[uint64]DisplaySpec
}

// NewStaticDisplayProvider creates a provider.
func NewStaticDisplayProvider(specs []DisplaySpec) *StaticDisplayProvider {
	p := &StaticDisplayProvider{displays: make(map[uint64]DisplaySpec, len(specs))}
	for _, s := range specs {
		p.displays[s.ID] = s
	}
	return p
}

// ScreenInfo returns the effective screen of a display.
func (p *StaticDisplayProvider) ScreenInfo(displayID uint64, crossAxis domain.CrossAxisState) (domain.ScreenInfo, error) {
	p.mu.RLock()
	spec, ok := p.displays[displayID]
	p.mu.RUnlock()
	if !ok {
		return domain.ScreenInfo{}, fmt.Errorf("display %d not found", displayID)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return domain.ScreenInfo{}, fmt.Errorf("display %d has invalid size %.0fx%.0f", displayID, spec.Width, spec.Height)
	}

	info := domain.ScreenInfo{Width: spec.Width, Height: spec.Height, Round: spec.Round}
	if crossAxis == domain.CrossAxisCross && spec.CrossWidth > 0 && spec.CrossHeight > 0 {
		info.Width = spec.CrossWidth
		info.Height = spec.CrossHeight
		info.FoldOffsetY = spec.FoldOffsetY
	}
	return info, nil
}

// SetDisplay adds or replaces a display.
func (p *StaticDisplayProvider) SetDisplay(spec DisplaySpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[spec.ID] = spec
}

// WindowStore implements domain.WindowProvider from window updates pushed
// by the window manager.
type WindowStore struct {
	mu      sync.RWMutex
	windows map[int32]domain.WindowInfo
}

// NewWindowStore creates an empty store.
func NewWindowStore() *WindowStore {
	return &WindowStore{windows: make(map[int32]domain.WindowInfo)}
}

// WindowInfo returns the last reported state of a window.
func (s *WindowStore) WindowInfo(windowID int32) (domain.WindowInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.windows[windowID]
	if !ok {
		return domain.WindowInfo{}, fmt.Errorf("window %d not found", windowID)
	}
	return info, nil
}

// Set records a window's scale and rect.
func (s *WindowStore) Set(windowID int32, info domain.WindowInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[windowID] = info
}

// Remove forgets a window.
func (s *WindowStore) Remove(windowID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, windowID)
}

var (
	_ domain.DisplayProvider = (*StaticDisplayProvider)(nil)
	_ domain.WindowProvider  = (*WindowStore)(nil)
)
