// Package controller runs the controlling role: it owns the device
// registry, the focus state machine and the session listener, and
// pumps captured local input either into edge detection (while local)
// or over the wire to the active device (while remote).
package controller

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/orz-ai/mkshare/internal/config"
	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/focus"
	"github.com/orz-ai/mkshare/internal/input"
	"github.com/orz-ai/mkshare/internal/protocol"
	"github.com/orz-ai/mkshare/internal/session"
)

// recenterMargin is how close the held cursor may drift toward the
// capture region's edge before it is snapped back to center. It must
// exceed the edge-trigger threshold so the held cursor can never fire
// a local edge trigger of its own.
const recenterMargin = 100

// Controller wires capture, focus decisions and the session listener
// together on the controlling host.
type Controller struct {
	cfg      *config.Config
	registry *device.Registry
	machine  *focus.Machine
	server   *session.Server
	capture  input.Capture
	local    device.Screen

	mu       sync.Mutex
	lastRawX int
	lastRawY int
	havePos  bool

	done    chan struct{}
	stopped sync.Once

	// Optional observers for the status API.
	OnDeviceEvent func(event, deviceID, deviceName string)
	OnFocusEvent  func(state, deviceID string)
}

// New builds a controller. screens are the local screens reported by
// the geometry collaborator; the primary one drives edge detection.
func New(cfg *config.Config, capture input.Capture, screens []device.Screen, hostname string) *Controller {
	local := device.Screen{Width: 1920, Height: 1080, IsPrimary: true}
	for _, s := range screens {
		if s.IsPrimary {
			local = s
			break
		}
	}

	registry := device.NewRegistry()
	machine := focus.NewMachine(registry, local, cfg.ScreenSwitch.EdgeThreshold, cfg.EdgeDelayDuration())

	addr := fmt.Sprintf("%s:%d", cfg.Network.Server.Host, cfg.Network.Server.Port)
	server := session.NewServer(addr, hostname, registry)

	return &Controller{
		cfg:      cfg,
		registry: registry,
		machine:  machine,
		server:   server,
		capture:  capture,
		local:    local,
		done:     make(chan struct{}),
	}
}

// Registry exposes the device registry (read by the status API).
func (c *Controller) Registry() *device.Registry {
	return c.registry
}

// Machine exposes the focus machine (read by the status API).
func (c *Controller) Machine() *focus.Machine {
	return c.machine
}

// Server exposes the session listener, mainly for tests.
func (c *Controller) Server() *session.Server {
	return c.server
}

// Start launches the session listener and the capture pump.
func (c *Controller) Start() error {
	c.server.OnConnected = c.onPeerConnected
	c.server.OnDisconnected = c.onPeerDisconnected
	c.server.OnMessage = c.onPeerMessage

	if err := c.server.Start(); err != nil {
		return err
	}
	if err := c.capture.Start(); err != nil {
		c.server.Stop()
		return fmt.Errorf("controller: start capture: %w", err)
	}

	go c.eventLoop()
	log.Printf("Controller: Running, listening on %s", c.server.Addr())
	return nil
}

// Stop shuts everything down. Local input suppression is always
// lifted, whatever state we were in.
func (c *Controller) Stop() {
	c.stopped.Do(func() {
		close(c.done)
		c.capture.SetSuppressed(false)
		c.capture.Stop()
		c.server.Stop()
	})
}

func (c *Controller) eventLoop() {
	events := c.capture.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if c.machine.Remote() {
				c.forwardEvent(ev)
			} else {
				c.localEvent(ev)
			}
		case <-c.done:
			return
		}
	}
}

// localEvent feeds pointer samples into edge detection while the local
// device owns focus.
func (c *Controller) localEvent(ev input.Event) {
	if ev.Kind != input.KindMouseMove {
		return
	}
	h := c.machine.PointerAt(ev.X, ev.Y, time.Now())
	if h == nil {
		return
	}
	c.beginHandoff(h)
}

// beginHandoff suppresses local input and tells the target device that
// control arrived through the given edge.
func (c *Controller) beginHandoff(h *focus.Handoff) {
	c.capture.SetSuppressed(true)

	c.mu.Lock()
	c.lastRawX, c.lastRawY = c.capture.Position()
	c.havePos = true
	c.mu.Unlock()

	err := c.server.Send(h.Device.ID, protocol.MsgSwitchIn, protocol.FlagNone, &protocol.SwitchInPayload{
		Edge: string(h.Edge),
		X:    h.EnterX,
		Y:    h.EnterY,
	})
	if err != nil {
		log.Printf("Controller: Switch-in send failed: %v", err)
		c.returnLocal("send failure", false)
		return
	}
	c.server.Send(h.Device.ID, protocol.MsgLockCursor, protocol.FlagNone, nil)

	if c.OnFocusEvent != nil {
		c.OnFocusEvent("remote", h.Device.ID)
	}
}

// forwardEvent ships one captured event to the active device while a
// remote device owns focus.
func (c *Controller) forwardEvent(ev input.Event) {
	activeID := c.machine.ActiveID()
	if activeID == "" {
		return
	}

	switch ev.Kind {
	case input.KindMouseMove:
		c.forwardMove(activeID, ev)

	case input.KindMouseButton:
		t := protocol.MsgMouseUp
		if ev.Pressed {
			t = protocol.MsgMouseDown
		}
		c.send(activeID, t, &protocol.MouseButtonPayload{Button: ev.Button, Pressed: ev.Pressed})

	case input.KindMouseWheel:
		c.send(activeID, protocol.MsgMouseWheel, &protocol.MouseWheelPayload{DeltaX: ev.WheelX, DeltaY: ev.WheelY})

	case input.KindKey:
		if ev.Pressed && ev.KeyCode == c.cfg.Input.EscapeKeyCode {
			log.Printf("Controller: Escape key, returning to local control")
			c.returnLocal("escape", true)
			return
		}
		t := protocol.MsgKeyUp
		if ev.Pressed {
			t = protocol.MsgKeyDown
		}
		c.send(activeID, t, &protocol.KeyPayload{
			KeyCode:   ev.KeyCode,
			Char:      ev.Char,
			Modifiers: ev.Modifiers,
		})
	}
}

// forwardMove converts a captured move into a relative delta, holds
// the suppressed cursor away from the screen edge and keeps the snap
// jump out of the forwarded delta.
func (c *Controller) forwardMove(activeID string, ev input.Event) {
	c.mu.Lock()
	dx, dy := ev.DX, ev.DY
	if dx == 0 && dy == 0 {
		if c.havePos {
			dx = ev.X - c.lastRawX
			dy = ev.Y - c.lastRawY
		}
	}
	c.lastRawX, c.lastRawY = ev.X, ev.Y
	c.havePos = true

	// The delta is computed before recentering, so the jump back to
	// center never reaches the peer.
	if cx, cy, snap := input.Recenter(c.local, ev.X, ev.Y, recenterMargin); snap {
		if err := c.capture.Warp(cx, cy); err == nil {
			c.lastRawX, c.lastRawY = cx, cy
		}
	}
	c.mu.Unlock()

	if dx == 0 && dy == 0 {
		return
	}
	if s := c.cfg.Input.Mouse.Sensitivity; s != 1.0 && s > 0 {
		dx = int(math.Round(float64(dx) * s))
		dy = int(math.Round(float64(dy) * s))
	}
	c.send(activeID, protocol.MsgMouseMove, &protocol.MouseMovePayload{Relative: true, DX: dx, DY: dy})
}

func (c *Controller) send(deviceID string, t protocol.MessageType, payload interface{}) {
	if err := c.server.Send(deviceID, t, protocol.FlagNone, payload); err != nil {
		log.Printf("Controller: Send %s to %s failed: %v", t, deviceID, err)
	}
}

// returnLocal transitions back to local control, lifting suppression.
// With notifyPeer set, the previously active device is told to
// deactivate.
func (c *Controller) returnLocal(reason string, notifyPeer bool) {
	activeID := c.machine.ActiveID()
	if !c.machine.ReturnLocal(reason) {
		return
	}
	c.capture.SetSuppressed(false)

	c.mu.Lock()
	c.havePos = false
	c.mu.Unlock()

	if notifyPeer && activeID != "" {
		c.server.Send(activeID, protocol.MsgSwitchOut, protocol.FlagNone, &protocol.SwitchOutPayload{Reason: reason})
		c.server.Send(activeID, protocol.MsgUnlockCursor, protocol.FlagNone, nil)
	}
	if c.OnFocusEvent != nil {
		c.OnFocusEvent("local", "")
	}
}

// onPeerConnected assigns the peer its configured position.
func (c *Controller) onPeerConnected(d *device.Device) {
	if pos, ok := c.cfg.Devices[d.Name]; ok {
		if err := c.registry.SetPosition(d.ID, device.Position(pos)); err != nil {
			log.Printf("Controller: Position %s for %s rejected: %v", pos, d.Name, err)
		}
	} else {
		log.Printf("Controller: Device %s has no configured position; assign one to enable handoff", d.Name)
	}
	if c.OnDeviceEvent != nil {
		c.OnDeviceEvent("connected", d.ID, d.Name)
	}
}

// onPeerDisconnected returns focus to local if the vanished peer held
// it. Suppression must never outlive the connection that caused it.
func (c *Controller) onPeerDisconnected(deviceID string) {
	if c.machine.PeerGone(deviceID) {
		c.capture.SetSuppressed(false)
		c.mu.Lock()
		c.havePos = false
		c.mu.Unlock()
		if c.OnFocusEvent != nil {
			c.OnFocusEvent("local", "")
		}
	}
	if c.OnDeviceEvent != nil {
		c.OnDeviceEvent("disconnected", deviceID, "")
	}
}

// onPeerMessage handles non-handshake traffic from peers.
func (c *Controller) onPeerMessage(deviceID string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgSwitchOut:
		// The controlled side reported its reciprocal edge: control
		// comes back without the escape key.
		if deviceID == c.machine.ActiveID() {
			log.Printf("Controller: Peer %s returned control", deviceID)
			c.returnLocal("peer edge", false)
		}
	case protocol.MsgStatus:
		if payload, err := protocol.DecodePayload(msg); err == nil {
			if st, ok := payload.(*protocol.StatusPayload); ok {
				log.Printf("Controller: Status from %s: %s %s", deviceID, st.State, st.Message)
			}
		}
	default:
		log.Printf("Controller: Ignoring %s from %s", msg.Type, deviceID)
	}
}
