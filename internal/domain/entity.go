// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"math"
	"time"
)

// ComponentType identifies the kind of security component.
type ComponentType int

const (
	UnknownComponent ComponentType = iota
	LocationComponent
	PasteComponent
	SaveComponent
)

// String returns the wire name of the component type.
func (t ComponentType) String() string {
	switch t {
	case LocationComponent:
		return "location"
	case PasteComponent:
		return "paste"
	case SaveComponent:
		return "save"
	default:
		return "unknown"
	}
}

// IsValid reports whether t is one of the modeled component kinds.
func (t ComponentType) IsValid() bool {
	return t > UnknownComponent && t <= SaveComponent
}

// ParseComponentType maps a wire name to a ComponentType.
func ParseComponentType(s string) (ComponentType, error) {
	switch s {
	case "location":
		return LocationComponent, nil
	case "paste":
		return PasteComponent, nil
	case "save":
		return SaveComponent, nil
	}
	return UnknownComponent, fmt.Errorf("unknown component type %q", s)
}

// Geometry comparisons tolerate float noise below epsilon.
const epsilon = 0.001

// GreatOrEqual reports a >= b within epsilon.
func GreatOrEqual(a, b float64) bool {
	return a > b || math.Abs(a-b) < epsilon
}

// GreatNotEqual reports a > b by more than epsilon.
func GreatNotEqual(a, b float64) bool {
	return a-b > epsilon
}

// IsEqual reports a == b within epsilon.
func IsEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// BorderRadius holds the four corner radii of a rect.
type BorderRadius struct {
	LeftTop     float64 `json:"left_top"`
	RightTop    float64 `json:"right_top"`
	LeftBottom  float64 `json:"left_bottom"`
	RightBottom float64 `json:"right_bottom"`
}

// Rect is a position and size in screen coordinates.
type Rect struct {
	X            float64      `json:"x"`
	Y            float64      `json:"y"`
	Width        float64      `json:"width"`
	Height       float64      `json:"height"`
	BorderRadius BorderRadius `json:"border_radius"`
}

// Area returns width * height.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// IsEmpty reports whether the rect has no extent.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ContainsPoint reports whether (x, y) lies inside r, widened by tolerance on every edge.
func (r Rect) ContainsPoint(x, y, tolerance float64) bool {
	return GreatOrEqual(x, r.X-tolerance) && GreatOrEqual(r.X+r.Width+tolerance, x) &&
		GreatOrEqual(y, r.Y-tolerance) && GreatOrEqual(r.Y+r.Height+tolerance, y)
}

// Color is a packed 0xAARRGGBB value.
type Color uint32

// Alpha returns the alpha channel.
func (c Color) Alpha() uint8 {
	return uint8(c >> 24)
}

// Hex renders the color as #aarrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%08x", uint32(c))
}

// Padding is the four-sided inner spacing of a component.
type Padding struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Min returns the smallest of the four sides.
func (p Padding) Min() float64 {
	return math.Min(math.Min(p.Top, p.Right), math.Min(p.Bottom, p.Left))
}

// BackgroundType is the shape of the drawn background.
type BackgroundType int

const (
	NoBackground      BackgroundType = -1
	BackgroundCapsule BackgroundType = 0
	BackgroundCircle  BackgroundType = 1
	BackgroundNormal  BackgroundType = 2
)

// CrossAxisState describes split/fold display layouts.
type CrossAxisState int

const (
	CrossAxisInvalid CrossAxisState = iota
	CrossAxisCross
	CrossAxisNoCross
)

// NoText and NoIcon mark an absent label or icon.
const (
	NoText = -1
	NoIcon = -1
)

// Descriptor is the reported appearance of one security component.
type Descriptor struct {
	Type       ComponentType
	NodeID     int64
	Rect       Rect
	WindowRect Rect
	DisplayID  uint64
	WindowID   int32
	CrossAxis  CrossAxisState

	TextID          int
	IconID          int
	Background      BackgroundType
	FontSize        float64
	IconSize        float64
	FontColor       Color
	IconColor       Color
	BackgroundColor Color
	Padding         Padding
	TextIconSpace   float64
	BorderWidth     float64

	ParentEffect           bool
	IsClipped              bool
	HasNonCompatibleChange bool
	IsCustomizable         bool
	IsArkui                bool
	IsWearable             bool

	// Scale is the effective render scale recorded by validation.
	Scale float64
	// Valid is derived by validation; callers never set it.
	Valid bool
}

// HasText reports whether a text label is drawn.
func (d *Descriptor) HasText() bool { return d.TextID != NoText }

// HasIcon reports whether an icon is drawn.
func (d *Descriptor) HasIcon() bool { return d.IconID != NoIcon }

// HasBackground reports whether a background is drawn.
func (d *Descriptor) HasBackground() bool { return d.Background != NoBackground }

// Clone returns a copy safe to mutate.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	return &c
}

// Entity binds a registered descriptor to its owner.
// Entities are owned by the registry and mutated only under its lock.
type Entity struct {
	ScID       int32
	TokenID    uint32
	PID        int32
	UID        int32
	Descriptor *Descriptor

	Granted             bool
	CustomAuthorized    bool
	BypassSecurityCheck bool
}

// Type returns the immutable component type.
func (e *Entity) Type() ComponentType {
	return e.Descriptor.Type
}

// AllowToBypassSecurityCheck grants the narrow bypass for custom-authorized
// save components whose failed check reported the bypass capability.
func (e *Entity) AllowToBypassSecurityCheck(bypassable bool) bool {
	if !bypassable || !e.CustomAuthorized || e.Type() != SaveComponent {
		return false
	}
	e.BypassSecurityCheck = true
	return true
}

// AllowToShowToast reports whether an already-consented click may show a toast.
func (e *Entity) AllowToShowToast() bool {
	if e.Descriptor == nil || !e.CustomAuthorized || e.Type() != SaveComponent {
		return false
	}
	return e.Descriptor.IsCustomizable || e.BypassSecurityCheck
}

// CallerInfo identifies the principal behind a request.
type CallerInfo struct {
	TokenID uint32
	PID     int32
	UID     int32
	// System marks a trusted system caller.
	System bool
	// CustomizeSaveButton is the privileged attribute that custom-authorizes save entities.
	CustomizeSaveButton bool
}

// ClickKind distinguishes click payload variants.
type ClickKind int

const (
	PointClick ClickKind = iota
	KeyClick
	AccessibilityClick
)

// String returns the wire name of the click kind.
func (k ClickKind) String() string {
	switch k {
	case PointClick:
		return "point"
	case KeyClick:
		return "key"
	case AccessibilityClick:
		return "accessibility"
	default:
		return "unknown"
	}
}

// ClickEvent is the raw click payload reported with a click.
type ClickEvent struct {
	Kind        ClickKind
	X           float64
	Y           float64
	KeyCode     int32
	ComponentID int64
	Timestamp   time.Time
	// Extra is opaque integrity data checked by the enhance adapter.
	Extra []byte
}

// ScreenInfo is the active display geometry.
type ScreenInfo struct {
	Width  float64
	Height float64
	Round  bool
	// FoldOffsetY shifts virtual-screen touches on a folded display.
	FoldOffsetY float64
}

// WindowInfo carries the render scale and remapped rect of a window.
type WindowInfo struct {
	ScaleX     float64
	ScaleY     float64
	Compatible bool
	Rect       Rect
}

// PermissionState is the per-kind grant state of one owner token.
type PermissionState struct {
	Location bool
	Paste    bool
	Save     bool
}

// ProcessSnapshot is a read-only view of one process table entry.
type ProcessSnapshot struct {
	PID          int32
	TokenID      uint32
	IsForeground bool
	Permissions  PermissionState
	Entities     []EntitySnapshot
}

// EntitySnapshot is a read-only view of one entity.
type EntitySnapshot struct {
	ScID    int32
	Type    ComponentType
	Granted bool
	Valid   bool
	Rect    Rect
}
