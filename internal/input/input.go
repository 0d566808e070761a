// Package input defines the narrow interfaces through which the core
// consumes OS-level input capture and injection, and the helpers
// shared by both roles. Platform hook implementations live outside
// this module and plug in behind these interfaces.
package input

import (
	"github.com/orz-ai/mkshare/internal/device"
)

// Kind discriminates captured event variants.
type Kind uint8

const (
	KindMouseMove Kind = iota + 1
	KindMouseButton
	KindMouseWheel
	KindKey
)

func (k Kind) String() string {
	switch k {
	case KindMouseMove:
		return "mouse_move"
	case KindMouseButton:
		return "mouse_button"
	case KindMouseWheel:
		return "mouse_wheel"
	case KindKey:
		return "key"
	default:
		return "unknown"
	}
}

// Event is one captured input event. Which fields are meaningful
// depends on Kind: moves carry X/Y and, when the capture hook can
// provide them, raw DX/DY deltas; buttons carry Button/Pressed; wheel
// carries WheelX/WheelY; keys carry KeyCode/Char/Modifiers/Pressed.
type Event struct {
	Kind      Kind
	X, Y      int
	DX, DY    int
	Button    int // 1=left, 2=right, 3=middle
	Pressed   bool
	KeyCode   uint16
	Char      string
	Modifiers uint16
	WheelX    int
	WheelY    int
	Timestamp int64 // ms since epoch
}

// Capture is the local input capture collaborator. SetSuppressed is
// live-mutable: the hook reads the flag on each event rather than
// being torn down and recreated to change it. Warp repositions the
// local cursor; the caller accounts for the jump so it never leaks
// into forwarded deltas.
type Capture interface {
	Start() error
	Stop() error
	Events() <-chan Event
	SetSuppressed(bool)
	Position() (x, y int)
	Warp(x, y int) error
}

// Replayer is the local input injection collaborator on the
// controlled side.
type Replayer interface {
	MoveAbsolute(x, y int) error
	MoveRelative(dx, dy int) error
	Button(button int, pressed bool) error
	Wheel(dx, dy int) error
	Key(code uint16, pressed bool, modifiers uint16) error
}

// ScreenProvider enumerates the local screens. Geometry is static for
// the lifetime of a connection.
type ScreenProvider interface {
	ListScreens() []device.Screen
}
