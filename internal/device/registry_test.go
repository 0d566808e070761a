package device

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testDevice(id, name string) *Device {
	return &Device{
		ID:            id,
		Name:          name,
		OS:            "linux",
		Screens:       []Screen{{Width: 1920, Height: 1080, IsPrimary: true}},
		Position:      PositionCenter,
		LastHeartbeat: time.Now(),
		Online:        true,
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))

	if d := r.Get("a"); d == nil || d.Name != "alpha" {
		t.Fatalf("Expected to get device alpha, got %v", d)
	}
	if r.Count() != 1 {
		t.Errorf("Expected count 1, got %d", r.Count())
	}

	r.Remove("a")
	if d := r.Get("a"); d != nil {
		t.Errorf("Expected device gone after remove, got %v", d)
	}
}

// TestPositionExclusive verifies a position slot rejects a second
// occupant and never reports two devices at the same position.
func TestPositionExclusive(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))
	r.Add(testDevice("b", "beta"))

	if err := r.SetPosition("a", PositionRight); err != nil {
		t.Fatalf("SetPosition(a, right) failed: %v", err)
	}
	if err := r.SetPosition("b", PositionRight); !errors.Is(err, ErrPositionTaken) {
		t.Fatalf("Expected ErrPositionTaken, got %v", err)
	}

	if d := r.ByPosition(PositionRight); d == nil || d.ID != "a" {
		t.Errorf("Expected device a at right, got %v", d)
	}
	if d := r.Get("b"); d.Position == PositionRight {
		t.Error("Device b must not report position=right after rejected assignment")
	}
}

func TestPositionReassign(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))

	if err := r.SetPosition("a", PositionLeft); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	if err := r.SetPosition("a", PositionRight); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}

	if d := r.ByPosition(PositionLeft); d != nil {
		t.Errorf("Old slot should be free, got %v", d)
	}
	if d := r.ByPosition(PositionRight); d == nil || d.ID != "a" {
		t.Errorf("Expected device a at right, got %v", d)
	}

	// Same slot again is idempotent, not a conflict.
	if err := r.SetPosition("a", PositionRight); err != nil {
		t.Errorf("Idempotent reassign failed: %v", err)
	}
}

func TestSetPositionUnknownDevice(t *testing.T) {
	r := NewRegistry()
	if err := r.SetPosition("ghost", PositionLeft); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestByPositionOfflineOccupant(t *testing.T) {
	r := NewRegistry()
	d := testDevice("a", "alpha")
	d.LastHeartbeat = time.Now().Add(-time.Minute)
	r.Add(d)
	if err := r.SetPosition("a", PositionLeft); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}

	r.SweepOffline(10 * time.Second)

	if got := r.ByPosition(PositionLeft); got != nil {
		t.Errorf("Offline occupant must not be returned, got %v", got)
	}
}

func TestSetActiveSingleHolder(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))
	r.Add(testDevice("b", "beta"))

	if err := r.SetActive("a"); err != nil {
		t.Fatalf("SetActive(a) failed: %v", err)
	}
	if err := r.SetActive("b"); err != nil {
		t.Fatalf("SetActive(b) failed: %v", err)
	}

	if r.Get("a").Active {
		t.Error("Device a should have lost the active flag")
	}
	if !r.Get("b").Active {
		t.Error("Device b should be active")
	}
	if d := r.Active(); d == nil || d.ID != "b" {
		t.Errorf("Expected active device b, got %v", d)
	}

	// Empty id returns focus to local.
	if err := r.SetActive(""); err != nil {
		t.Fatalf("SetActive(\"\") failed: %v", err)
	}
	if r.Active() != nil {
		t.Error("Expected no active device after returning to local")
	}
	if r.Get("b").Active {
		t.Error("Device b should have lost the active flag")
	}
}

func TestSetActiveUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.SetActive("ghost"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestRemoveActiveDevice(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))
	if err := r.SetActive("a"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	r.Remove("a")
	if r.Active() != nil {
		t.Error("Removing the active device must clear focus")
	}
}

func TestSweepOfflineAndTouch(t *testing.T) {
	r := NewRegistry()
	d := testDevice("a", "alpha")
	d.LastHeartbeat = time.Now().Add(-30 * time.Second)
	r.Add(d)

	expired := r.SweepOffline(10 * time.Second)
	if len(expired) != 1 || expired[0] != "a" {
		t.Fatalf("Expected [a] expired, got %v", expired)
	}
	if r.Get("a").Online {
		t.Error("Swept device should be offline")
	}

	// Second sweep does not re-report.
	if expired := r.SweepOffline(10 * time.Second); len(expired) != 0 {
		t.Errorf("Expected no re-report, got %v", expired)
	}

	// A heartbeat brings it back online.
	r.Touch("a")
	if !r.Get("a").Online {
		t.Error("Touched device should be online again")
	}
}

// TestRegistryReturnsCopies: accessors hand out snapshots, so callers
// can neither corrupt the registry nor observe its entries changing
// under them.
func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))

	got := r.Get("a")
	got.Name = "mangled"
	got.Online = false
	if d := r.Get("a"); d.Name != "alpha" || !d.Online {
		t.Error("Mutating a returned device must not affect the registry")
	}

	list := r.List()
	list[0].Online = false
	if !r.Get("a").Online {
		t.Error("Mutating a listed device must not affect the registry")
	}

	before := r.Get("a")
	time.Sleep(time.Millisecond)
	r.Touch("a")
	if !r.Get("a").LastHeartbeat.After(before.LastHeartbeat) {
		t.Error("Touch should not be visible through an earlier snapshot")
	}
}

// TestRegistryConcurrentAccess drives readers against the heartbeat
// writer. Mainly meaningful under the race detector.
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.Add(testDevice("a", "alpha"))
	if err := r.SetPosition("a", PositionRight); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			r.Touch("a")
			r.SweepOffline(time.Minute)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			for _, d := range r.List() {
				_ = d.Online
				_ = d.LastHeartbeat
			}
			if d := r.ByPosition(PositionRight); d != nil {
				_ = d.LastHeartbeat
			}
			if d := r.Get("a"); d != nil {
				_ = d.Active
			}
			_ = r.Active()
		}
	}()
	wg.Wait()
}

func TestScreenEdgeAt(t *testing.T) {
	s := Screen{X: 0, Y: 0, Width: 1920, Height: 1080}

	cases := []struct {
		x, y int
		want Edge
	}{
		{0, 500, EdgeLeft},
		{3, 500, EdgeLeft},
		{1919, 500, EdgeRight},
		{1915, 500, EdgeRight},
		{960, 0, EdgeTop},
		{960, 1079, EdgeBottom},
		{960, 540, EdgeNone},
		{10, 10, EdgeNone},
	}
	for _, tc := range cases {
		if got := s.EdgeAt(tc.x, tc.y, 5); got != tc.want {
			t.Errorf("EdgeAt(%d, %d) = %q, want %q", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestEdgeOpposite(t *testing.T) {
	pairs := map[Edge]Edge{
		EdgeLeft:   EdgeRight,
		EdgeRight:  EdgeLeft,
		EdgeTop:    EdgeBottom,
		EdgeBottom: EdgeTop,
	}
	for e, want := range pairs {
		if got := e.Opposite(); got != want {
			t.Errorf("%q.Opposite() = %q, want %q", e, got, want)
		}
	}
}
