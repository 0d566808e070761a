package session

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/protocol"
)

// DefaultHeartbeatTimeout is how long a peer may stay silent before
// it is considered offline.
const DefaultHeartbeatTimeout = 10 * time.Second

// Server is the listener role. It accepts connections, runs one
// receive loop per peer, gates each connection behind the hello
// handshake and maintains the device registry's online state.
type Server struct {
	addr             string
	name             string // reported in hello_ack
	registry         *device.Registry
	heartbeatTimeout time.Duration

	ln      net.Listener
	mu      sync.Mutex
	conns   map[string]*conn // device id -> connection
	done    chan struct{}
	stopped sync.Once

	// Lifecycle callbacks, invoked from connection goroutines. Set
	// before Start.
	OnConnected    func(d *device.Device)
	OnDisconnected func(deviceID string)
	OnMessage      func(deviceID string, msg *protocol.Message)
}

// NewServer creates a listener-role session manager.
func NewServer(addr, name string, registry *device.Registry) *Server {
	return &Server{
		addr:             addr,
		name:             name,
		registry:         registry,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		conns:            make(map[string]*conn),
		done:             make(chan struct{}),
	}
}

// SetHeartbeatTimeout overrides the offline detection timeout.
func (s *Server) SetHeartbeatTimeout(d time.Duration) {
	s.heartbeatTimeout = d
}

// Start binds the listening endpoint and launches the accept and
// offline-sweep loops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("session: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	log.Printf("Session Server: Listening on %s", s.addr)

	go s.acceptLoop()
	go s.sweepLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and all peer connections.
func (s *Server) Stop() {
	s.stopped.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.mu.Lock()
		for _, c := range s.conns {
			c.close()
		}
		s.mu.Unlock()
		log.Printf("Session Server: Stopped")
	})
}

func (s *Server) acceptLoop() {
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("Session Server: Accept error: %v", err)
				continue
			}
		}
		log.Printf("Session Server: New connection from %s", raw.RemoteAddr())
		go s.handleConn(raw)
	}
}

// handleConn runs the receive loop for one peer. The first frame must
// be a hello; anything else is a protocol violation and closes the
// connection.
func (s *Server) handleConn(raw net.Conn) {
	c := newConn(raw)
	deviceID := ""

	err := c.readLoop(func(msg *protocol.Message) error {
		if deviceID == "" {
			if msg.Type != protocol.MsgHello {
				if err := c.send(protocol.MsgError, protocol.FlagNone, &protocol.ErrorPayload{
					Code:    1,
					Message: "handshake required",
				}); err != nil {
					log.Printf("Session Server: Error reply failed: %v", err)
				}
				return fmt.Errorf("%w: got %s", ErrHandshakeFirst, msg.Type)
			}
			id, err := s.handleHello(c, msg, raw.RemoteAddr().String())
			if err != nil {
				return err
			}
			deviceID = id
			return nil
		}

		// Any traffic proves liveness.
		s.registry.Touch(deviceID)

		switch msg.Type {
		case protocol.MsgHello:
			return fmt.Errorf("session: duplicate hello from %s", deviceID)
		case protocol.MsgPing:
			return c.send(protocol.MsgPong, protocol.FlagNone,
				&protocol.PongPayload{Timestamp: time.Now().UnixMilli()})
		case protocol.MsgPong:
			return nil
		case protocol.MsgDisconnect:
			log.Printf("Session Server: Device %s disconnecting", deviceID)
			s.registry.Remove(deviceID)
			return fmt.Errorf("session: peer %s closed", deviceID)
		default:
			if s.OnMessage != nil {
				s.OnMessage(deviceID, msg)
			}
			return nil
		}
	})

	c.close()
	if deviceID != "" {
		s.mu.Lock()
		if s.conns[deviceID] == c {
			delete(s.conns, deviceID)
		}
		s.mu.Unlock()

		s.registry.MarkOffline(deviceID)
		log.Printf("Session Server: Device %s disconnected: %v", deviceID, err)
		if s.OnDisconnected != nil {
			s.OnDisconnected(deviceID)
		}
	} else if err != nil {
		log.Printf("Session Server: Connection from %s closed before handshake: %v", raw.RemoteAddr(), err)
	}
}

func (s *Server) handleHello(c *conn, msg *protocol.Message, addr string) (string, error) {
	payload, err := protocol.DecodePayload(msg)
	if err != nil {
		return "", err
	}
	hello, _ := payload.(*protocol.HelloPayload)
	if hello == nil || hello.DeviceID == "" {
		if err := c.send(protocol.MsgHelloAck, protocol.FlagNone, &protocol.HelloAckPayload{
			Status:  protocol.StatusRejected,
			Message: "missing device id",
		}); err != nil {
			log.Printf("Session Server: Reject reply failed: %v", err)
		}
		return "", fmt.Errorf("session: invalid hello from %s", addr)
	}

	d := device.FromHello(hello, addr)
	s.registry.Add(d)

	s.mu.Lock()
	if old, ok := s.conns[d.ID]; ok && old != c {
		old.close()
	}
	s.conns[d.ID] = c
	s.mu.Unlock()

	ack := &protocol.HelloAckPayload{
		Status:     protocol.StatusAccepted,
		ServerName: s.name,
		SessionID:  d.ID,
		Message:    "connected",
	}
	if err := c.send(protocol.MsgHelloAck, protocol.FlagNone, ack); err != nil {
		return "", err
	}

	log.Printf("Session Server: Device registered: %s (%s, %d screens)", d.Name, d.ID, len(d.Screens))
	if s.OnConnected != nil {
		s.OnConnected(d)
	}
	return d.ID, nil
}

// sweepLoop periodically expires devices whose heartbeats stopped.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.heartbeatTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, id := range s.registry.SweepOffline(s.heartbeatTimeout) {
				s.mu.Lock()
				c := s.conns[id]
				delete(s.conns, id)
				s.mu.Unlock()
				if c != nil {
					c.close()
				}
				if s.OnDisconnected != nil {
					s.OnDisconnected(id)
				}
			}
		case <-s.done:
			return
		}
	}
}

// Send delivers one message to a connected device.
func (s *Server) Send(deviceID string, t protocol.MessageType, flags uint8, payload interface{}) error {
	s.mu.Lock()
	c := s.conns[deviceID]
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.send(t, flags, payload)
}

// Broadcast delivers one message to every connected device.
func (s *Server) Broadcast(t protocol.MessageType, flags uint8, payload interface{}) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.send(t, flags, payload); err != nil {
			log.Printf("Session Server: Broadcast send failed: %v", err)
		}
	}
}
