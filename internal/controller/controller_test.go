package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/orz-ai/mkshare/internal/config"
	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/input"
	"github.com/orz-ai/mkshare/internal/protocol"
	"github.com/orz-ai/mkshare/internal/session"
)

// fakeCapture is a scriptable capture hook. Tests push events through
// the channel and observe suppression and warps.
type fakeCapture struct {
	events chan input.Event

	mu         sync.Mutex
	suppressed bool
	x, y       int
	warps      int
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{events: make(chan input.Event, 64)}
}

func (f *fakeCapture) Start() error               { return nil }
func (f *fakeCapture) Stop() error                { return nil }
func (f *fakeCapture) Events() <-chan input.Event { return f.events }

func (f *fakeCapture) SetSuppressed(v bool) {
	f.mu.Lock()
	f.suppressed = v
	f.mu.Unlock()
}

func (f *fakeCapture) Suppressed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suppressed
}

func (f *fakeCapture) Position() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.x, f.y
}

func (f *fakeCapture) Warp(x, y int) error {
	f.mu.Lock()
	f.x, f.y = x, y
	f.warps++
	f.mu.Unlock()
	return nil
}

func (f *fakeCapture) moveTo(x, y int) {
	f.mu.Lock()
	f.x, f.y = x, y
	f.mu.Unlock()
	f.events <- input.Event{Kind: input.KindMouseMove, X: x, Y: y}
}

// startFixture runs a controller on an ephemeral port with a 1920x1080
// local screen and connects one peer named "peer-host" configured on
// the right edge, with a 1280x720 screen.
func startFixture(t *testing.T) (*Controller, *fakeCapture, *session.Client, chan *protocol.Message) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Network.Server.Host = "127.0.0.1"
	cfg.Network.Server.Port = 0
	cfg.ScreenSwitch.EdgeDelay = 0.05
	cfg.Devices = map[string]string{"peer-host": "right"}

	capture := newFakeCapture()
	screens := []device.Screen{{Index: 0, Width: 1920, Height: 1080, IsPrimary: true}}
	c := New(cfg, capture, screens, "controller-host")
	if err := c.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	t.Cleanup(c.Stop)

	hello := protocol.HelloPayload{
		DeviceID:   "peer-1",
		DeviceName: "peer-host",
		OSType:     "linux",
		Screens:    []protocol.ScreenInfo{{Width: 1280, Height: 720, IsPrimary: true}},
	}
	received := make(chan *protocol.Message, 64)
	peer := session.NewClient(c.Server().Addr(), hello, false, time.Second)
	peer.OnMessage = func(msg *protocol.Message) { received <- msg }

	connected := make(chan struct{}, 1)
	peer.OnConnected = func(*protocol.HelloAckPayload) { connected <- struct{}{} }
	peer.Start()
	t.Cleanup(peer.Close)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never connected")
	}

	// Position assignment happens on the connection goroutine.
	deadline := time.Now().Add(time.Second)
	for c.Registry().ByPosition(device.PositionRight) == nil {
		if time.Now().After(deadline) {
			t.Fatal("peer never got its configured position")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c, capture, peer, received
}

func nextMessage(t *testing.T, ch chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a forwarded message")
		return nil
	}
}

// crossEdge dwells the cursor at the right edge long enough to fire a
// handoff and waits for focus to go remote.
func crossEdge(t *testing.T, c *Controller, capture *fakeCapture) {
	t.Helper()
	capture.moveTo(1919, 540)
	time.Sleep(80 * time.Millisecond)
	capture.moveTo(1919, 540)

	deadline := time.Now().Add(2 * time.Second)
	for !c.Machine().Remote() {
		if time.Now().After(deadline) {
			t.Fatal("edge dwell never triggered a handoff")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerHandoffSuppressesAndSwitchesIn(t *testing.T) {
	c, capture, _, received := startFixture(t)

	crossEdge(t, c, capture)

	if !capture.Suppressed() {
		t.Error("local capture not suppressed after handoff")
	}

	msg := nextMessage(t, received)
	if msg.Type != protocol.MsgSwitchIn {
		t.Fatalf("got %s, want switch_in", msg.Type)
	}
	payload, err := protocol.DecodePayload(msg)
	if err != nil {
		t.Fatalf("decode switch_in: %v", err)
	}
	sw := payload.(*protocol.SwitchInPayload)
	if sw.Edge != "right" {
		t.Errorf("edge = %q, want right", sw.Edge)
	}
	if sw.X != 0 || sw.Y != 360 {
		t.Errorf("entry = (%d, %d), want (0, 360)", sw.X, sw.Y)
	}

	if msg := nextMessage(t, received); msg.Type != protocol.MsgLockCursor {
		t.Errorf("got %s, want lock_cursor", msg.Type)
	}
}

func TestControllerForwardsInputWhileRemote(t *testing.T) {
	c, capture, _, received := startFixture(t)
	crossEdge(t, c, capture)
	nextMessage(t, received) // switch_in
	nextMessage(t, received) // lock_cursor

	capture.events <- input.Event{Kind: input.KindMouseMove, X: 960, Y: 540, DX: 5, DY: -2}
	msg := nextMessage(t, received)
	if msg.Type != protocol.MsgMouseMove {
		t.Fatalf("got %s, want mouse_move", msg.Type)
	}
	payload, _ := protocol.DecodePayload(msg)
	mv := payload.(*protocol.MouseMovePayload)
	if !mv.Relative || mv.DX != 5 || mv.DY != -2 {
		t.Errorf("got %+v, want relative (5, -2)", mv)
	}

	capture.events <- input.Event{Kind: input.KindMouseButton, Button: 1, Pressed: true}
	if msg := nextMessage(t, received); msg.Type != protocol.MsgMouseDown {
		t.Errorf("got %s, want mouse_down", msg.Type)
	}

	capture.events <- input.Event{Kind: input.KindMouseWheel, WheelY: 3}
	if msg := nextMessage(t, received); msg.Type != protocol.MsgMouseWheel {
		t.Errorf("got %s, want mouse_wheel", msg.Type)
	}

	capture.events <- input.Event{Kind: input.KindKey, KeyCode: 0x41, Pressed: true}
	if msg := nextMessage(t, received); msg.Type != protocol.MsgKeyDown {
		t.Errorf("got %s, want key_down", msg.Type)
	}
}

func TestControllerRecentersHeldCursor(t *testing.T) {
	c, capture, _, received := startFixture(t)
	crossEdge(t, c, capture)
	nextMessage(t, received) // switch_in
	nextMessage(t, received) // lock_cursor

	// The held cursor drifted into the margin band; the hook must be
	// warped back to center and the jump must not reach the peer.
	capture.mu.Lock()
	capture.x, capture.y = 1900, 540
	capture.mu.Unlock()
	capture.events <- input.Event{Kind: input.KindMouseMove, X: 1900, Y: 540, DX: 2, DY: 0}

	msg := nextMessage(t, received)
	payload, _ := protocol.DecodePayload(msg)
	mv := payload.(*protocol.MouseMovePayload)
	if mv.DX != 2 || mv.DY != 0 {
		t.Errorf("forwarded (%d, %d), want the raw (2, 0) delta", mv.DX, mv.DY)
	}

	if x, y := capture.Position(); x != 960 || y != 540 {
		t.Errorf("cursor held at (%d, %d), want warped to (960, 540)", x, y)
	}
}

func TestControllerEscapeReturnsLocal(t *testing.T) {
	c, capture, _, received := startFixture(t)
	crossEdge(t, c, capture)
	nextMessage(t, received) // switch_in
	nextMessage(t, received) // lock_cursor

	capture.events <- input.Event{Kind: input.KindKey, KeyCode: 0x1B, Pressed: true}

	if msg := nextMessage(t, received); msg.Type != protocol.MsgSwitchOut {
		t.Fatalf("got %s, want switch_out", msg.Type)
	}
	if msg := nextMessage(t, received); msg.Type != protocol.MsgUnlockCursor {
		t.Errorf("got %s, want unlock_cursor", msg.Type)
	}

	deadline := time.Now().Add(time.Second)
	for c.Machine().Remote() {
		if time.Now().After(deadline) {
			t.Fatal("focus never returned to local")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if capture.Suppressed() {
		t.Error("capture still suppressed after escape")
	}
}

func TestControllerPeerSwitchOutReturnsLocal(t *testing.T) {
	c, capture, peer, received := startFixture(t)
	crossEdge(t, c, capture)
	nextMessage(t, received) // switch_in
	nextMessage(t, received) // lock_cursor

	if err := peer.Send(protocol.MsgSwitchOut, protocol.FlagNone, &protocol.SwitchOutPayload{Reason: "edge"}); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Machine().Remote() || capture.Suppressed() {
		if time.Now().After(deadline) {
			t.Fatal("peer switch-out never returned focus to local")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerPeerDisconnectReturnsLocal(t *testing.T) {
	c, capture, peer, received := startFixture(t)
	crossEdge(t, c, capture)
	nextMessage(t, received) // switch_in
	nextMessage(t, received) // lock_cursor

	peer.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Machine().Remote() || capture.Suppressed() {
		if time.Now().After(deadline) {
			t.Fatal("peer loss never returned focus to local")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerIgnoresEdgeWithoutOccupant(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Network.Server.Host = "127.0.0.1"
	cfg.Network.Server.Port = 0
	cfg.ScreenSwitch.EdgeDelay = 0.05

	capture := newFakeCapture()
	screens := []device.Screen{{Width: 1920, Height: 1080, IsPrimary: true}}
	c := New(cfg, capture, screens, "controller-host")
	if err := c.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	t.Cleanup(c.Stop)

	capture.moveTo(1919, 540)
	time.Sleep(80 * time.Millisecond)
	capture.moveTo(1919, 540)
	time.Sleep(50 * time.Millisecond)

	if c.Machine().Remote() {
		t.Error("handoff fired with no device on that edge")
	}
	if capture.Suppressed() {
		t.Error("capture suppressed with no device on that edge")
	}
}
