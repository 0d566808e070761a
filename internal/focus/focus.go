// Package focus decides when input control moves between devices. It
// owns the debounced edge detection, the LOCAL/REMOTE state machine
// and the coordinate transform applied at handoff.
package focus

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/orz-ai/mkshare/internal/device"
)

// EdgeTracker debounces edge contact: a handoff fires only after the
// cursor has stayed within the edge band for the configured delay.
// Leaving the band or sliding to a different edge resets the timer.
type EdgeTracker struct {
	threshold int           // edge band width in pixels
	delay     time.Duration // required dwell time

	lastEdge device.Edge
	since    time.Time
}

// NewEdgeTracker creates a tracker with the given band width and
// dwell delay.
func NewEdgeTracker(threshold int, delay time.Duration) *EdgeTracker {
	return &EdgeTracker{threshold: threshold, delay: delay}
}

// Observe feeds one pointer sample. It returns the edge the cursor is
// currently at (EdgeNone if not at an edge) and whether the dwell
// requirement was just satisfied. After firing, the tracker resets so
// one continuous dwell produces exactly one trigger.
func (t *EdgeTracker) Observe(s device.Screen, x, y int, now time.Time) (device.Edge, bool) {
	edge := s.EdgeAt(x, y, t.threshold)
	if edge == device.EdgeNone {
		t.lastEdge = device.EdgeNone
		t.since = time.Time{}
		return device.EdgeNone, false
	}

	if edge != t.lastEdge {
		t.lastEdge = edge
		t.since = now
		return edge, false
	}

	if now.Sub(t.since) >= t.delay {
		t.lastEdge = device.EdgeNone
		t.since = time.Time{}
		return edge, true
	}
	return edge, false
}

// Reset clears any dwell in progress.
func (t *EdgeTracker) Reset() {
	t.lastEdge = device.EdgeNone
	t.since = time.Time{}
}

// Handoff describes a decided LOCAL -> REMOTE transition.
type Handoff struct {
	Device *device.Device
	Edge   device.Edge
	EnterX int
	EnterY int
}

// Machine is the focus state machine. Either the local device owns
// focus (LOCAL) or exactly one remote device does (REMOTE). All state
// lives behind the machine's mutex and is mutated only through its
// transition methods.
type Machine struct {
	mu       sync.Mutex
	registry *device.Registry
	tracker  *EdgeTracker
	local    device.Screen // controller's primary screen

	activeID    string // "" while LOCAL
	triggerEdge device.Edge
	lastX       int
	lastY       int
}

// NewMachine creates a machine over the given registry. localScreen is
// the controller's primary screen, used for edge detection and the
// handoff transform.
func NewMachine(registry *device.Registry, localScreen device.Screen, threshold int, delay time.Duration) *Machine {
	return &Machine{
		registry: registry,
		tracker:  NewEdgeTracker(threshold, delay),
		local:    localScreen,
	}
}

// Remote reports whether a remote device owns focus.
func (m *Machine) Remote() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID != ""
}

// ActiveID returns the id of the device owning focus, or "".
func (m *Machine) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// TriggerEdge returns the edge that caused the current handoff, or
// EdgeNone while LOCAL.
func (m *Machine) TriggerEdge() device.Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggerEdge
}

// PointerAt feeds a pointer position while LOCAL. When the debounced
// edge trigger fires and a device occupies the matching position, the
// machine transitions to REMOTE and returns the handoff; otherwise it
// returns nil. Calls while already REMOTE return nil.
func (m *Machine) PointerAt(x, y int, now time.Time) *Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return nil
	}
	m.lastX, m.lastY = x, y

	edge, fired := m.tracker.Observe(m.local, x, y, now)
	if !fired {
		return nil
	}

	target := m.registry.ByPosition(device.PositionForEdge(edge))
	if target == nil {
		// No occupant for that edge: the trigger is ignored.
		return nil
	}

	enterX, enterY := EntryPoint(edge, x, y, m.local, target.PrimaryScreen())

	m.activeID = target.ID
	m.triggerEdge = edge
	m.registry.SetActive(target.ID)
	log.Printf("Focus: Handoff to %s via %s edge, entry (%d, %d)", target.Name, edge, enterX, enterY)

	return &Handoff{Device: target, Edge: edge, EnterX: enterX, EnterY: enterY}
}

// ReturnLocal transitions REMOTE -> LOCAL for an explicit reason (the
// escape key, or the peer reporting its reciprocal edge). It reports
// whether a transition actually happened.
func (m *Machine) ReturnLocal(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return false
	}
	log.Printf("Focus: Returning to local control (%s)", reason)
	m.toLocal()
	return true
}

// PeerGone handles disconnection of a device. If it was the active
// device, focus unconditionally returns to LOCAL.
func (m *Machine) PeerGone(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" || m.activeID != id {
		return false
	}
	log.Printf("Focus: Active device %s disconnected, returning to local", id)
	m.toLocal()
	return true
}

func (m *Machine) toLocal() {
	m.activeID = ""
	m.triggerEdge = device.EdgeNone
	m.lastX, m.lastY = 0, 0
	m.tracker.Reset()
	m.registry.SetActive("")
}

// EntryPoint computes where the cursor appears on the remote screen
// after exiting the local screen at (x, y) through edge. The
// coordinate perpendicular to the edge maps to the opposite edge of
// the remote screen; the parallel coordinate scales proportionally so
// alignment stays roughly continuous across resolutions.
func EntryPoint(edge device.Edge, x, y int, local, remote device.Screen) (int, int) {
	switch edge {
	case device.EdgeLeft:
		return remote.X + remote.Width - 1, remote.Y + scale(y-local.Y, local.Height, remote.Height)
	case device.EdgeRight:
		return remote.X, remote.Y + scale(y-local.Y, local.Height, remote.Height)
	case device.EdgeTop:
		return remote.X + scale(x-local.X, local.Width, remote.Width), remote.Y + remote.Height - 1
	case device.EdgeBottom:
		return remote.X + scale(x-local.X, local.Width, remote.Width), remote.Y
	}
	return remote.X, remote.Y
}

func scale(v, from, to int) int {
	if from <= 0 {
		return 0
	}
	scaled := int(math.Round(float64(v) * float64(to) / float64(from)))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > to-1 {
		scaled = to - 1
	}
	return scaled
}
