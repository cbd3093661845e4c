// Package codec decodes wire payloads into domain values.
//
// Descriptors arrive as JSON objects. Each payload is checked against an
// embedded JSON Schema before it is mapped, so a malformed field is reported
// as ErrValueInvalid rather than reaching the validator as a zero value.
package codec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

//go:embed schema/descriptor.schema.json
var descriptorSchemaJSON string

const descriptorSchemaURL = "seccomp://descriptor.schema.json"

var descriptorSchema = jsonschema.MustCompileString(descriptorSchemaURL, descriptorSchemaJSON)

// Descriptor is the wire form of domain.Descriptor.
type Descriptor struct {
	NodeID     int64       `json:"node_id"`
	Rect       domain.Rect `json:"rect"`
	WindowRect domain.Rect `json:"window_rect"`
	DisplayID  uint64      `json:"display_id"`
	WindowID   int32       `json:"window_id"`
	CrossAxis  string      `json:"cross_axis,omitempty"`

	Text            int            `json:"text"`
	Icon            int            `json:"icon"`
	Background      int            `json:"bg"`
	FontSize        float64        `json:"font_size"`
	IconSize        float64        `json:"icon_size"`
	FontColor       uint32         `json:"font_color"`
	IconColor       uint32         `json:"icon_color"`
	BackgroundColor uint32         `json:"bg_color"`
	Padding         domain.Padding `json:"padding"`
	TextIconSpace   float64        `json:"text_icon_space"`
	BorderWidth     float64        `json:"border_width"`

	ParentEffect           bool `json:"parent_effect"`
	IsClipped              bool `json:"is_clipped"`
	HasNonCompatibleChange bool `json:"non_compatible_change"`
	IsCustomizable         bool `json:"is_customizable"`
	IsArkui                bool `json:"is_arkui"`
	IsWearable             bool `json:"is_wearable"`
}

// Click is the wire form of domain.ClickEvent.
type Click struct {
	Kind        string  `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	KeyCode     int32   `json:"key_code"`
	ComponentID int64   `json:"component_id"`
	TimestampMs int64   `json:"timestamp_ms"`
	Extra       []byte  `json:"extra,omitempty"`
}

// RegisterRequest is the body of a register call.
type RegisterRequest struct {
	Type      string          `json:"type" binding:"required"`
	Component json.RawMessage `json:"component" binding:"required"`
}

// UpdateRequest is the body of an update call.
type UpdateRequest struct {
	Component json.RawMessage `json:"component" binding:"required"`
}

// ClickRequest is the body of a click report.
type ClickRequest struct {
	Component json.RawMessage `json:"component" binding:"required"`
	Click     Click           `json:"click"`
	Message   string          `json:"message,omitempty"`
}

// DecodeDescriptor validates raw against the descriptor schema and maps it
// to a domain descriptor of type t.
func DecodeDescriptor(t domain.ComponentType, raw []byte) (*domain.Descriptor, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.Errorf(domain.ErrValueInvalid, "empty component")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.Errorf(domain.ErrValueInvalid, "component is not JSON: %v", err)
	}
	if err := descriptorSchema.Validate(doc); err != nil {
		return nil, domain.Errorf(domain.ErrValueInvalid, "component schema: %v", err)
	}

	var w Descriptor
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.Errorf(domain.ErrValueInvalid, "component decode: %v", err)
	}
	return w.toDomain(t)
}

func (w *Descriptor) toDomain(t domain.ComponentType) (*domain.Descriptor, error) {
	cross, err := parseCrossAxis(w.CrossAxis)
	if err != nil {
		return nil, err
	}
	return &domain.Descriptor{
		Type:                   t,
		NodeID:                 w.NodeID,
		Rect:                   w.Rect,
		WindowRect:             w.WindowRect,
		DisplayID:              w.DisplayID,
		WindowID:               w.WindowID,
		CrossAxis:              cross,
		TextID:                 w.Text,
		IconID:                 w.Icon,
		Background:             domain.BackgroundType(w.Background),
		FontSize:               w.FontSize,
		IconSize:               w.IconSize,
		FontColor:              domain.Color(w.FontColor),
		IconColor:              domain.Color(w.IconColor),
		BackgroundColor:        domain.Color(w.BackgroundColor),
		Padding:                w.Padding,
		TextIconSpace:          w.TextIconSpace,
		BorderWidth:            w.BorderWidth,
		ParentEffect:           w.ParentEffect,
		IsClipped:              w.IsClipped,
		HasNonCompatibleChange: w.HasNonCompatibleChange,
		IsCustomizable:         w.IsCustomizable,
		IsArkui:                w.IsArkui,
		IsWearable:             w.IsWearable,
	}, nil
}

// EncodeDescriptor renders d in wire form.
func EncodeDescriptor(d *domain.Descriptor) ([]byte, error) {
	w := Descriptor{
		NodeID:                 d.NodeID,
		Rect:                   d.Rect,
		WindowRect:             d.WindowRect,
		DisplayID:              d.DisplayID,
		WindowID:               d.WindowID,
		CrossAxis:              crossAxisName(d.CrossAxis),
		Text:                   d.TextID,
		Icon:                   d.IconID,
		Background:             int(d.Background),
		FontSize:               d.FontSize,
		IconSize:               d.IconSize,
		FontColor:              uint32(d.FontColor),
		IconColor:              uint32(d.IconColor),
		BackgroundColor:        uint32(d.BackgroundColor),
		Padding:                d.Padding,
		TextIconSpace:          d.TextIconSpace,
		BorderWidth:            d.BorderWidth,
		ParentEffect:           d.ParentEffect,
		IsClipped:              d.IsClipped,
		HasNonCompatibleChange: d.HasNonCompatibleChange,
		IsCustomizable:         d.IsCustomizable,
		IsArkui:                d.IsArkui,
		IsWearable:             d.IsWearable,
	}
	return json.Marshal(&w)
}

func parseCrossAxis(s string) (domain.CrossAxisState, error) {
	switch s {
	case "":
		return domain.CrossAxisInvalid, nil
	case "cross":
		return domain.CrossAxisCross, nil
	case "no_cross":
		return domain.CrossAxisNoCross, nil
	}
	return domain.CrossAxisInvalid, domain.Errorf(domain.ErrValueInvalid, "unknown cross axis %q", s)
}

func crossAxisName(c domain.CrossAxisState) string {
	switch c {
	case domain.CrossAxisCross:
		return "cross"
	case domain.CrossAxisNoCross:
		return "no_cross"
	}
	return ""
}

// ToClickEvent maps a wire click to a domain click.
func (c Click) ToClickEvent() (domain.ClickEvent, error) {
	ev := domain.ClickEvent{
		X:           c.X,
		Y:           c.Y,
		KeyCode:     c.KeyCode,
		ComponentID: c.ComponentID,
		Extra:       c.Extra,
	}
	if c.TimestampMs > 0 {
		ev.Timestamp = time.UnixMilli(c.TimestampMs)
	}

	switch c.Kind {
	case "", "point":
		ev.Kind = domain.PointClick
	case "key":
		ev.Kind = domain.KeyClick
	case "accessibility":
		ev.Kind = domain.AccessibilityClick
	default:
		return domain.ClickEvent{}, domain.Errorf(domain.ErrValueInvalid, "unknown click kind %q", c.Kind)
	}
	return ev, nil
}

// DecodeRegister parses a register body into its type, descriptor and raw
// component bytes.
func DecodeRegister(req RegisterRequest) (domain.ComponentType, *domain.Descriptor, error) {
	t, err := domain.ParseComponentType(req.Type)
	if err != nil {
		return domain.UnknownComponent, nil, domain.Errorf(domain.ErrValueInvalid, "%v", err)
	}
	d, err := DecodeDescriptor(t, req.Component)
	if err != nil {
		return t, nil, err
	}
	return t, d, nil
}

// DecodeFile decodes a standalone descriptor document of the form
// {"type": "...", "component": {...}}.
func DecodeFile(data []byte) (*domain.Descriptor, error) {
	var req RegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor file: %w", err)
	}
	_, d, err := DecodeRegister(req)
	return d, err
}
