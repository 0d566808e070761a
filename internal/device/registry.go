package device

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrUnknownDevice = errors.New("device: unknown device")
	ErrPositionTaken = errors.New("device: position already occupied")
)

// Registry is the table of known remote devices. It is read from the
// input capture path and written from the network receive path, so
// every method takes the registry lock and every accessor returns a
// copy; the entries themselves never leave the lock.
type Registry struct {
	mu        sync.Mutex
	devices   map[string]*Device
	positions map[Position]string // occupied slot -> device id
	activeID  string              // "" means the local device owns focus
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]*Device),
		positions: make(map[Position]string),
	}
}

// Add records a device. The registry stores its own copy, so the
// caller keeps ownership of d. Re-adding an existing id replaces the
// entry but keeps its position assignment if the new descriptor has
// none.
func (r *Registry) Add(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *d
	if old, ok := r.devices[cp.ID]; ok && cp.Position == PositionCenter {
		cp.Position = old.Position
	}
	r.devices[cp.ID] = &cp
	if cp.Position != PositionCenter {
		r.positions[cp.Position] = cp.ID
	}
	log.Printf("Registry: Added device %s (%s, %s)", cp.Name, cp.ID, cp.Position)
}

// Remove drops a device, freeing its position slot and the active
// flag if it held them.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return
	}
	delete(r.devices, id)
	if d.Position != PositionCenter && r.positions[d.Position] == id {
		delete(r.positions, d.Position)
	}
	if r.activeID == id {
		r.activeID = ""
	}
	log.Printf("Registry: Removed device %s (%s)", d.Name, id)
}

// snapshot copies an entry so callers can read it outside the lock.
// Screens are never mutated after registration, so the slice header is
// shared.
func snapshot(d *Device) *Device {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// Get returns a copy of the device with the given id, or nil.
func (r *Registry) Get(id string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.devices[id])
}

// List returns copies of all devices ordered by name for stable
// output.
func (r *Registry) List() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, snapshot(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// SetPosition binds a device to a position slot. A slot already held
// by a different device is a conflict; the caller decides whether to
// surface it. Assigning PositionCenter clears the binding.
func (r *Registry) SetPosition(id string, p Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	if p != PositionCenter {
		if holder, taken := r.positions[p]; taken && holder != id {
			return ErrPositionTaken
		}
	}

	// Free the old slot before taking the new one.
	if d.Position != PositionCenter && r.positions[d.Position] == id {
		delete(r.positions, d.Position)
	}
	d.Position = p
	if p != PositionCenter {
		r.positions[p] = id
	}
	log.Printf("Registry: Device %s assigned position %s", d.Name, p)
	return nil
}

// ByPosition returns the online device occupying a slot, or nil if the
// slot is empty or its occupant is offline.
func (r *Registry) ByPosition(p Position) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.positions[p]
	if !ok {
		return nil
	}
	d := r.devices[id]
	if d == nil || !d.Online {
		return nil
	}
	return snapshot(d)
}

// SetActive marks the device owning input focus. An empty id returns
// focus to the local device. Idempotent; the previous holder's flag is
// always cleared.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if _, ok := r.devices[id]; !ok {
			return ErrUnknownDevice
		}
	}
	if prev, ok := r.devices[r.activeID]; ok {
		prev.Active = false
	}
	r.activeID = id
	if d, ok := r.devices[id]; ok {
		d.Active = true
		log.Printf("Registry: Focus moved to %s", d.Name)
	} else {
		log.Printf("Registry: Focus returned to local")
	}
	return nil
}

// Active returns a copy of the device that owns focus, or nil when
// the local device does.
func (r *Registry) Active() *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.devices[r.activeID])
}

// Touch records a heartbeat from a device, flipping it back online if
// a sweep had marked it offline.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.LastHeartbeat = time.Now()
		d.Online = true
	}
}

// MarkOffline flips a device offline immediately, used when its
// transport closes rather than times out.
func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok && d.Online {
		d.Online = false
		log.Printf("Registry: Device %s marked offline", d.Name)
	}
}

// SweepOffline marks devices silent for longer than timeout as offline
// and returns their ids. Devices already offline are not re-reported.
func (r *Registry) SweepOffline(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	now := time.Now()
	for id, d := range r.devices {
		if d.Online && now.Sub(d.LastHeartbeat) > timeout {
			d.Online = false
			expired = append(expired, id)
			log.Printf("Registry: Device %s went offline (no heartbeat for %v)", d.Name, timeout)
		}
	}
	return expired
}
