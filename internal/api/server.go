// Package api provides a local HTTP status surface: registry and
// focus snapshots over REST, and a websocket feed of device and focus
// events for a settings UI.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/orz-ai/mkshare/internal/device"
)

// FocusReporter is the slice of the focus machine the API needs.
type FocusReporter interface {
	Remote() bool
	ActiveID() string
}

// Server exposes the status API.
type Server struct {
	registry *device.Registry
	focus    FocusReporter
	wsMgr    *WSManager
	started  time.Time
	httpSrv  *http.Server
}

// NewServer creates a status API server over the given registry and
// focus machine.
func NewServer(registry *device.Registry, focus FocusReporter) *Server {
	s := &Server{
		registry: registry,
		focus:    focus,
		started:  time.Now(),
	}
	s.wsMgr = newWSManager()
	return s
}

// Start begins serving on the given port. Blocking.
func (s *Server) Start(port int) error {
	go s.wsMgr.start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	log.Printf("API: Listening on %s", addr)

	s.httpSrv = &http.Server{Handler: mux}
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the API server down.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.wsMgr.stop()
}

// NotifyDeviceEvent publishes a device lifecycle event to websocket
// subscribers.
func (s *Server) NotifyDeviceEvent(event, deviceID, deviceName string) {
	s.wsMgr.publish(Event{
		Event:      event,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// NotifyFocusEvent publishes a focus change to websocket subscribers.
func (s *Server) NotifyFocusEvent(state, deviceID string) {
	s.wsMgr.publish(Event{
		Event:     "focus",
		State:     state,
		DeviceID:  deviceID,
		Timestamp: time.Now().UnixMilli(),
	})
}

type deviceView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OS       string `json:"os"`
	Addr     string `json:"addr,omitempty"`
	Position string `json:"position"`
	Online   bool   `json:"online"`
	Active   bool   `json:"active"`
	Screens  int    `json:"screens"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := s.registry.List()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			ID:       d.ID,
			Name:     d.Name,
			OS:       d.OS,
			Addr:     d.Addr,
			Position: string(d.Position),
			Online:   d.Online,
			Active:   d.Active,
			Screens:  len(d.Screens),
		})
	}
	writeJSON(w, views)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := "local"
	if s.focus.Remote() {
		state = "remote"
	}
	writeJSON(w, map[string]interface{}{
		"state":          state,
		"active_device":  s.focus.ActiveID(),
		"device_count":   s.registry.Count(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: Encode response failed: %v", err)
	}
}
