package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback only; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one entry on the websocket feed.
type Event struct {
	Event      string `json:"event"` // "connected", "disconnected", "focus"
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	State      string `json:"state,omitempty"` // "local" / "remote" for focus events
	Timestamp  int64  `json:"timestamp"`
}

// WSManager fans events out to websocket subscribers.
type WSManager struct {
	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan Event
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	once       sync.Once
}

type wsClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager() *WSManager {
	return &WSManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan Event, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			m.clientsMu.Unlock()
			log.Printf("API WS: Subscriber from %s, total %d", client.ip, len(m.clients))

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.clientsMu.Unlock()

		case event := <-m.broadcast:
			m.broadcastEvent(event)

		case <-m.shutdown:
			return
		}
	}
}

func (m *WSManager) stop() {
	m.once.Do(func() { close(m.shutdown) })
}

// publish enqueues an event for the fan-out loop; slow consumers must
// not block the caller, so a full queue drops the event.
func (m *WSManager) publish(event Event) {
	select {
	case m.broadcast <- event:
	default:
		log.Printf("API WS: Event queue full, dropping %s", event.Event)
	}
}

func (m *WSManager) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("API WS: Marshal event failed: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
			delete(m.clients, client)
			close(client.send)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API WS: Upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 64),
		ip:      r.RemoteAddr,
	}
	m.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump exists only to detect subscriber disconnects; the feed is
// one-way.
func (c *wsClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
