package agent

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/orz-ai/mkshare/internal/config"
	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/protocol"
	"github.com/orz-ai/mkshare/internal/session"
)

type replayCall struct {
	op   string
	a, b int
}

// fakeReplayer records injected input on a channel so tests can wait
// for replay without polling.
type fakeReplayer struct {
	calls chan replayCall
}

func newFakeReplayer() *fakeReplayer {
	return &fakeReplayer{calls: make(chan replayCall, 64)}
}

func (f *fakeReplayer) MoveAbsolute(x, y int) error {
	f.calls <- replayCall{"move_abs", x, y}
	return nil
}

func (f *fakeReplayer) MoveRelative(dx, dy int) error {
	f.calls <- replayCall{"move_rel", dx, dy}
	return nil
}

func (f *fakeReplayer) Button(button int, pressed bool) error {
	p := 0
	if pressed {
		p = 1
	}
	f.calls <- replayCall{"button", button, p}
	return nil
}

func (f *fakeReplayer) Wheel(dx, dy int) error {
	f.calls <- replayCall{"wheel", dx, dy}
	return nil
}

func (f *fakeReplayer) Key(code uint16, pressed bool, modifiers uint16) error {
	p := 0
	if pressed {
		p = 1
	}
	f.calls <- replayCall{"key", int(code), p}
	return nil
}

func (f *fakeReplayer) next(t *testing.T) replayCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replayed input")
		return replayCall{}
	}
}

// startPair brings up a server and a connected agent with one 1280x720
// primary screen, and returns the id the agent registered under.
func startPair(t *testing.T, srv *session.Server) (*Agent, *fakeReplayer, string) {
	t.Helper()

	connected := make(chan string, 1)
	prev := srv.OnConnected
	srv.OnConnected = func(d *device.Device) {
		if prev != nil {
			prev(d)
		}
		connected <- d.ID
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Stop)

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.DefaultConfig()
	cfg.Network.Client.ServerHost = host
	cfg.Network.Client.ServerPort = port
	cfg.Network.Client.AutoReconnect = false

	screens := []device.Screen{{Index: 0, Width: 1280, Height: 720, IsPrimary: true, Name: "main"}}
	replay := newFakeReplayer()
	a := New(cfg, replay, screens, "agent-host", "linux")
	a.Start()
	t.Cleanup(a.Stop)

	select {
	case id := <-connected:
		return a, replay, id
	case <-time.After(2 * time.Second):
		t.Fatal("agent never connected")
		return nil, nil, ""
	}
}

func TestAgentReplaysForwardedInput(t *testing.T) {
	srv := session.NewServer("127.0.0.1:0", "controller", device.NewRegistry())
	a, replay, id := startPair(t, srv)

	srv.Send(id, protocol.MsgMouseDown, protocol.FlagNone, &protocol.MouseButtonPayload{Button: 1, Pressed: true})
	if got := replay.next(t); got.op != "button" || got.a != 1 || got.b != 1 {
		t.Errorf("got %+v, want button 1 pressed", got)
	}

	srv.Send(id, protocol.MsgMouseMove, protocol.FlagNone, &protocol.MouseMovePayload{Relative: true, DX: 7, DY: -3})
	if got := replay.next(t); got.op != "move_rel" || got.a != 7 || got.b != -3 {
		t.Errorf("got %+v, want move_rel 7 -3", got)
	}

	srv.Send(id, protocol.MsgMouseWheel, protocol.FlagNone, &protocol.MouseWheelPayload{DeltaX: 0, DeltaY: 2})
	if got := replay.next(t); got.op != "wheel" || got.a != 0 || got.b != 2 {
		t.Errorf("got %+v, want wheel 0 2", got)
	}

	srv.Send(id, protocol.MsgKeyDown, protocol.FlagNone, &protocol.KeyPayload{KeyCode: 0x41})
	if got := replay.next(t); got.op != "key" || got.a != 0x41 || got.b != 1 {
		t.Errorf("got %+v, want key 0x41 pressed", got)
	}
	srv.Send(id, protocol.MsgKeyUp, protocol.FlagNone, &protocol.KeyPayload{KeyCode: 0x41})
	if got := replay.next(t); got.op != "key" || got.a != 0x41 || got.b != 0 {
		t.Errorf("got %+v, want key 0x41 released", got)
	}

	if a.Active() {
		t.Error("agent active without a switch-in")
	}
}

func TestAgentSwitchInActivatesAndPositionsCursor(t *testing.T) {
	srv := session.NewServer("127.0.0.1:0", "controller", device.NewRegistry())
	a, replay, id := startPair(t, srv)

	srv.Send(id, protocol.MsgSwitchIn, protocol.FlagNone, &protocol.SwitchInPayload{Edge: "right", X: 0, Y: 360})
	if got := replay.next(t); got.op != "move_abs" || got.a != 0 || got.b != 360 {
		t.Errorf("got %+v, want move_abs 0 360", got)
	}

	deadline := time.Now().Add(time.Second)
	for !a.Active() {
		if time.Now().After(deadline) {
			t.Fatal("agent never activated")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Send(id, protocol.MsgSwitchOut, protocol.FlagNone, &protocol.SwitchOutPayload{Reason: "escape"})
	deadline = time.Now().Add(time.Second)
	for a.Active() {
		if time.Now().After(deadline) {
			t.Fatal("agent never deactivated")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAgentReciprocalEdgeReturnsControl(t *testing.T) {
	srv := session.NewServer("127.0.0.1:0", "controller", device.NewRegistry())

	returned := make(chan string, 1)
	srv.OnMessage = func(deviceID string, msg *protocol.Message) {
		if msg.Type == protocol.MsgSwitchOut {
			returned <- deviceID
		}
	}

	a, replay, id := startPair(t, srv)

	// Control entered through the left edge; pushing the cursor back
	// past x=0 must hand control back.
	srv.Send(id, protocol.MsgSwitchIn, protocol.FlagNone, &protocol.SwitchInPayload{Edge: "right", X: 0, Y: 360})
	replay.next(t) // entry positioning

	srv.Send(id, protocol.MsgMouseMove, protocol.FlagNone, &protocol.MouseMovePayload{Relative: true, DX: 10, DY: 0})
	replay.next(t)
	if !a.Active() {
		t.Fatal("agent deactivated by an inward move")
	}

	srv.Send(id, protocol.MsgMouseMove, protocol.FlagNone, &protocol.MouseMovePayload{Relative: true, DX: -15, DY: 0})
	replay.next(t)

	select {
	case from := <-returned:
		if from != id {
			t.Errorf("switch-out from %q, want %q", from, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no switch-out after crossing the entry edge")
	}
	if a.Active() {
		t.Error("agent still active after returning control")
	}
}

// TestAgentStopDeliversDisconnect: the orderly shutdown notice must
// reach the server before the socket closes, so the controller removes
// the device instead of waiting out the heartbeat timeout.
func TestAgentStopDeliversDisconnect(t *testing.T) {
	reg := device.NewRegistry()
	srv := session.NewServer("127.0.0.1:0", "controller", reg)
	a, _, id := startPair(t, srv)

	if reg.Get(id) == nil {
		t.Fatal("device not registered after connect")
	}

	a.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Get(id) != nil {
		if time.Now().After(deadline) {
			t.Fatal("device still registered after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentIgnoresEdgeWhileInactive(t *testing.T) {
	srv := session.NewServer("127.0.0.1:0", "controller", device.NewRegistry())

	returned := make(chan string, 1)
	srv.OnMessage = func(deviceID string, msg *protocol.Message) {
		if msg.Type == protocol.MsgSwitchOut {
			returned <- deviceID
		}
	}

	_, replay, id := startPair(t, srv)

	srv.Send(id, protocol.MsgMouseMove, protocol.FlagNone, &protocol.MouseMovePayload{X: 0, Y: 100})
	replay.next(t)
	srv.Send(id, protocol.MsgMouseMove, protocol.FlagNone, &protocol.MouseMovePayload{Relative: true, DX: -50, DY: 0})
	replay.next(t)

	select {
	case <-returned:
		t.Fatal("inactive agent sent a switch-out")
	case <-time.After(200 * time.Millisecond):
	}
}
