// Package agent runs the controlled role: it dials the controller,
// announces the local device, and replays forwarded input events into
// the local OS through the injection collaborator.
package agent

import (
	"fmt"
	"log"
	"sync"

	"github.com/orz-ai/mkshare/internal/config"
	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/input"
	"github.com/orz-ai/mkshare/internal/protocol"
	"github.com/orz-ai/mkshare/internal/session"
)

// Agent is the controlled-side coordinator.
type Agent struct {
	cfg     *config.Config
	client  *session.Client
	replay  input.Replayer
	primary device.Screen

	mu        sync.Mutex
	active    bool        // this device currently owns focus
	entryEdge device.Edge // edge control entered through
	curX      int         // replayed cursor estimate, for reciprocal edge exit
	curY      int
}

// New builds an agent. hostname and osType describe the local device
// in the handshake; screens come from the geometry collaborator.
func New(cfg *config.Config, replay input.Replayer, screens []device.Screen, hostname, osType string) *Agent {
	local := device.NewLocal(hostname, osType, screens)
	primary := local.PrimaryScreen()
	if primary.Width == 0 {
		primary = device.Screen{Width: 1920, Height: 1080, IsPrimary: true}
	}

	infos := make([]protocol.ScreenInfo, 0, len(screens))
	for _, s := range screens {
		infos = append(infos, s.ToInfo())
	}
	hello := protocol.HelloPayload{
		DeviceID:   local.ID,
		DeviceName: local.Name,
		OSType:     local.OS,
		Screens:    infos,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Network.Client.ServerHost, cfg.Network.Client.ServerPort)
	client := session.NewClient(addr, hello, cfg.Network.Client.AutoReconnect, cfg.ReconnectIntervalDuration())

	return &Agent{
		cfg:     cfg,
		client:  client,
		replay:  replay,
		primary: primary,
	}
}

// Client exposes the session client, mainly for tests.
func (a *Agent) Client() *session.Client {
	return a.client
}

// Start launches the connect loop.
func (a *Agent) Start() {
	a.client.OnConnected = func(ack *protocol.HelloAckPayload) {
		log.Printf("Agent: Connected to %s", ack.ServerName)
	}
	a.client.OnDisconnected = func(err error) {
		// Focus cannot survive the connection that granted it.
		a.mu.Lock()
		a.active = false
		a.entryEdge = device.EdgeNone
		a.mu.Unlock()
	}
	a.client.OnMessage = a.handleMessage
	a.client.Start()
}

// Stop closes the session.
func (a *Agent) Stop() {
	a.client.Send(protocol.MsgDisconnect, protocol.FlagNone, nil)
	a.client.Close()
}

// Active reports whether this device currently owns focus.
func (a *Agent) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Agent) handleMessage(msg *protocol.Message) {
	payload, err := protocol.DecodePayload(msg)
	if err != nil {
		log.Printf("Agent: %v", err)
		return
	}

	switch msg.Type {
	case protocol.MsgSwitchIn:
		a.handleSwitchIn(payload.(*protocol.SwitchInPayload))

	case protocol.MsgSwitchOut:
		a.mu.Lock()
		a.active = false
		a.entryEdge = device.EdgeNone
		a.mu.Unlock()
		log.Printf("Agent: Control left this device")

	case protocol.MsgMouseMove:
		a.handleMouseMove(payload.(*protocol.MouseMovePayload))

	case protocol.MsgMouseDown, protocol.MsgMouseUp:
		p := payload.(*protocol.MouseButtonPayload)
		if err := a.replay.Button(p.Button, p.Pressed); err != nil {
			log.Printf("Agent: Button replay failed: %v", err)
		}

	case protocol.MsgMouseWheel:
		p := payload.(*protocol.MouseWheelPayload)
		if err := a.replay.Wheel(p.DeltaX, p.DeltaY); err != nil {
			log.Printf("Agent: Wheel replay failed: %v", err)
		}

	case protocol.MsgKeyDown, protocol.MsgKeyUp:
		p := payload.(*protocol.KeyPayload)
		pressed := msg.Type == protocol.MsgKeyDown
		if err := a.replay.Key(p.KeyCode, pressed, p.Modifiers); err != nil {
			log.Printf("Agent: Key replay failed: %v", err)
		}

	case protocol.MsgLockCursor, protocol.MsgUnlockCursor:
		// Cursor clamping is a platform workaround handled by the
		// injection collaborator if at all; nothing to do here.

	default:
		log.Printf("Agent: Ignoring %s", msg.Type)
	}
}

// handleSwitchIn activates this device and positions the cursor at the
// computed entry point.
func (a *Agent) handleSwitchIn(p *protocol.SwitchInPayload) {
	a.mu.Lock()
	a.active = true
	// The controller reports the edge it exited through; control
	// enters this screen through the opposite edge.
	a.entryEdge = device.Edge(p.Edge).Opposite()
	a.curX, a.curY = p.X, p.Y
	a.mu.Unlock()

	if err := a.replay.MoveAbsolute(p.X, p.Y); err != nil {
		log.Printf("Agent: Entry positioning failed: %v", err)
	}
	log.Printf("Agent: Control entered via %s edge at (%d, %d)", a.entryEdge, p.X, p.Y)
}

// handleMouseMove replays a move and, while active, watches for the
// cursor pushing back out through the entry edge, which hands control
// back to the controller.
func (a *Agent) handleMouseMove(p *protocol.MouseMovePayload) {
	if p.Relative {
		if err := a.replay.MoveRelative(p.DX, p.DY); err != nil {
			log.Printf("Agent: Move replay failed: %v", err)
		}
	} else {
		if err := a.replay.MoveAbsolute(p.X, p.Y); err != nil {
			log.Printf("Agent: Move replay failed: %v", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	if p.Relative {
		a.curX += p.DX
		a.curY += p.DY
	} else {
		a.curX, a.curY = p.X, p.Y
	}

	if a.exitedEntryEdge() {
		a.active = false
		edge := a.entryEdge
		a.entryEdge = device.EdgeNone
		log.Printf("Agent: Cursor crossed the %s entry edge, returning control", edge)
		go func() {
			if err := a.client.Send(protocol.MsgSwitchOut, protocol.FlagNone, &protocol.SwitchOutPayload{Reason: "edge"}); err != nil {
				log.Printf("Agent: Switch-out send failed: %v", err)
			}
		}()
	}
}

// exitedEntryEdge reports whether the cursor estimate has pushed past
// the edge control entered through. Called with the mutex held.
func (a *Agent) exitedEntryEdge() bool {
	s := a.primary
	switch a.entryEdge {
	case device.EdgeLeft:
		return a.curX < s.X
	case device.EdgeRight:
		return a.curX >= s.X+s.Width
	case device.EdgeTop:
		return a.curY < s.Y
	case device.EdgeBottom:
		return a.curY >= s.Y+s.Height
	}
	return false
}
