// Package device models the machines participating in a sharing
// session: their screens, their position relative to the controller,
// and which one currently owns input focus.
package device

import (
	"time"

	"github.com/google/uuid"

	"github.com/orz-ai/mkshare/internal/protocol"
)

// Edge identifies a screen boundary.
type Edge string

const (
	EdgeNone   Edge = ""
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
)

// Opposite returns the reciprocal edge: the edge a cursor enters
// through on the peer after exiting through e locally.
func (e Edge) Opposite() Edge {
	switch e {
	case EdgeLeft:
		return EdgeRight
	case EdgeRight:
		return EdgeLeft
	case EdgeTop:
		return EdgeBottom
	case EdgeBottom:
		return EdgeTop
	}
	return EdgeNone
}

// Position is a device's placement relative to the controller's
// screen. Center is the unassigned slot.
type Position string

const (
	PositionCenter Position = "center"
	PositionLeft   Position = "left"
	PositionRight  Position = "right"
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// Valid reports whether p is one of the defined positions.
func (p Position) Valid() bool {
	switch p {
	case PositionCenter, PositionLeft, PositionRight, PositionTop, PositionBottom:
		return true
	}
	return false
}

// PositionForEdge maps the edge the cursor exited through to the
// position slot of the device it should enter.
func PositionForEdge(e Edge) Position {
	switch e {
	case EdgeLeft:
		return PositionLeft
	case EdgeRight:
		return PositionRight
	case EdgeTop:
		return PositionTop
	case EdgeBottom:
		return PositionBottom
	}
	return PositionCenter
}

// Screen is one display of a device.
type Screen struct {
	Index     int
	X         int
	Y         int
	Width     int
	Height    int
	IsPrimary bool
	Name      string
}

// Contains reports whether the point lies inside the screen bounds.
func (s Screen) Contains(x, y int) bool {
	return x >= s.X && x < s.X+s.Width && y >= s.Y && y < s.Y+s.Height
}

// EdgeAt returns the edge the point is within threshold pixels of, or
// EdgeNone. Near a corner the horizontal edges win.
func (s Screen) EdgeAt(x, y, threshold int) Edge {
	if abs(x-s.X) <= threshold {
		return EdgeLeft
	}
	if abs(x-(s.X+s.Width-1)) <= threshold {
		return EdgeRight
	}
	if abs(y-s.Y) <= threshold {
		return EdgeTop
	}
	if abs(y-(s.Y+s.Height-1)) <= threshold {
		return EdgeBottom
	}
	return EdgeNone
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ToInfo converts a Screen to its wire representation.
func (s Screen) ToInfo() protocol.ScreenInfo {
	return protocol.ScreenInfo{
		Index:     s.Index,
		X:         s.X,
		Y:         s.Y,
		Width:     s.Width,
		Height:    s.Height,
		IsPrimary: s.IsPrimary,
		Name:      s.Name,
	}
}

// ScreenFromInfo converts a wire screen descriptor back to a Screen.
func ScreenFromInfo(info protocol.ScreenInfo) Screen {
	return Screen{
		Index:     info.Index,
		X:         info.X,
		Y:         info.Y,
		Width:     info.Width,
		Height:    info.Height,
		IsPrimary: info.IsPrimary,
		Name:      info.Name,
	}
}

// Device is one participant in the session. The controller itself is
// represented by a local pseudo-device that owns focus whenever no
// remote device does.
type Device struct {
	ID            string
	Name          string
	OS            string
	Addr          string
	Screens       []Screen
	Position      Position
	LastHeartbeat time.Time
	Online        bool
	Active        bool
}

// PrimaryScreen returns the primary screen, falling back to the first
// screen, or a zero Screen if the device reported none.
func (d *Device) PrimaryScreen() Screen {
	for _, s := range d.Screens {
		if s.IsPrimary {
			return s
		}
	}
	if len(d.Screens) > 0 {
		return d.Screens[0]
	}
	return Screen{}
}

// FromHello builds a Device from a handshake descriptor.
func FromHello(hello *protocol.HelloPayload, addr string) *Device {
	screens := make([]Screen, 0, len(hello.Screens))
	for _, s := range hello.Screens {
		screens = append(screens, ScreenFromInfo(s))
	}
	return &Device{
		ID:            hello.DeviceID,
		Name:          hello.DeviceName,
		OS:            hello.OSType,
		Addr:          addr,
		Screens:       screens,
		Position:      PositionCenter,
		LastHeartbeat: time.Now(),
		Online:        true,
	}
}

// NewLocal builds the local pseudo-device with a generated identity.
func NewLocal(name, os string, screens []Screen) *Device {
	return &Device{
		ID:            uuid.NewString(),
		Name:          name,
		OS:            os,
		Screens:       screens,
		Position:      PositionCenter,
		LastHeartbeat: time.Now(),
		Online:        true,
	}
}
