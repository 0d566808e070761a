//go:build !windows

package input

import (
	"errors"

	"github.com/orz-ai/mkshare/internal/device"
)

// Stub hooks for platforms without a capture/injection backend.
// Platform files provide the real implementations behind build tags.

var errNoHook = errors.New("input: no capture backend built for this platform")

type stubCapture struct{}

// NewCapture returns the platform capture hook.
func NewCapture() Capture {
	return &stubCapture{}
}

func (s *stubCapture) Start() error         { return errNoHook }
func (s *stubCapture) Stop() error          { return nil }
func (s *stubCapture) Events() <-chan Event { return nil }
func (s *stubCapture) SetSuppressed(bool)   {}
func (s *stubCapture) Position() (int, int) { return 0, 0 }
func (s *stubCapture) Warp(x, y int) error  { return errNoHook }

type stubReplayer struct{}

// NewReplayer returns the platform injection hook.
func NewReplayer() Replayer {
	return &stubReplayer{}
}

func (s *stubReplayer) MoveAbsolute(x, y int) error                   { return errNoHook }
func (s *stubReplayer) MoveRelative(dx, dy int) error                 { return errNoHook }
func (s *stubReplayer) Button(button int, pressed bool) error         { return errNoHook }
func (s *stubReplayer) Wheel(dx, dy int) error                        { return errNoHook }
func (s *stubReplayer) Key(code uint16, pressed bool, m uint16) error { return errNoHook }

// Screens reports the local screen layout. Without a platform backend
// a single default screen is assumed.
func Screens() []device.Screen {
	return []device.Screen{{Width: 1920, Height: 1080, IsPrimary: true, Name: "default"}}
}
