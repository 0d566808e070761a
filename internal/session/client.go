package session

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/orz-ai/mkshare/internal/protocol"
)

const (
	// DefaultHeartbeatInterval is how often the dialer pings.
	DefaultHeartbeatInterval = 5 * time.Second
	// DefaultReconnectInterval is the minimum spacing between
	// reconnect attempts.
	DefaultReconnectInterval = 5 * time.Second

	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Client is the dialer role, run on the controlled side. It connects
// out, completes the hello handshake and then runs a receive loop and
// a heartbeat loop until the connection dies. With auto-reconnect
// enabled it retries forever, spaced by the reconnect interval.
type Client struct {
	addr              string
	hello             protocol.HelloPayload
	autoReconnect     bool
	reconnectInterval time.Duration
	heartbeatInterval time.Duration

	mu      sync.Mutex
	conn    *conn
	session string // session id granted by the server

	done    chan struct{}
	stopped sync.Once

	// Callbacks, set before Start.
	OnConnected    func(ack *protocol.HelloAckPayload)
	OnDisconnected func(err error)
	OnMessage      func(msg *protocol.Message)
}

// NewClient creates a dialer-role session manager. hello is the local
// device descriptor announced at handshake.
func NewClient(addr string, hello protocol.HelloPayload, autoReconnect bool, reconnectInterval time.Duration) *Client {
	if reconnectInterval <= 0 {
		reconnectInterval = DefaultReconnectInterval
	}
	return &Client{
		addr:              addr,
		hello:             hello,
		autoReconnect:     autoReconnect,
		reconnectInterval: reconnectInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		done:              make(chan struct{}),
	}
}

// SetHeartbeatInterval overrides the ping spacing. Call before Start.
func (c *Client) SetHeartbeatInterval(d time.Duration) {
	c.heartbeatInterval = d
}

// Start launches the connect loop.
func (c *Client) Start() {
	go c.loop()
}

// Close stops the client, closing any live connection. Pending reads
// unblock immediately.
func (c *Client) Close() {
	c.stopped.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.close()
		}
		c.mu.Unlock()
	})
}

// Connected reports whether a handshaken connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SessionID returns the id granted by the server, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Send delivers one message to the server.
func (c *Client) Send(t protocol.MessageType, flags uint8, payload interface{}) error {
	c.mu.Lock()
	cc := c.conn
	c.mu.Unlock()
	if cc == nil {
		return ErrNotConnected
	}
	return cc.send(t, flags, payload)
}

func (c *Client) loop() {
	for {
		err := c.runOnce()

		select {
		case <-c.done:
			return
		default:
		}

		if c.OnDisconnected != nil {
			c.OnDisconnected(err)
		}
		if !c.autoReconnect {
			log.Printf("Session Client: Connection ended (%v), auto-reconnect disabled", err)
			return
		}

		log.Printf("Session Client: Connection ended (%v), retrying in %v", err, c.reconnectInterval)
		select {
		case <-time.After(c.reconnectInterval):
		case <-c.done:
			return
		}
	}
}

// runOnce performs one connect / handshake / receive cycle and returns
// the error that ended it.
func (c *Client) runOnce() error {
	log.Printf("Session Client: Connecting to %s", c.addr)
	raw, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return err
	}

	cc := newConn(raw)
	defer cc.close()

	if err := cc.send(protocol.MsgHello, protocol.FlagNone, &c.hello); err != nil {
		return err
	}

	// The first inbound frame must be the handshake answer; nothing
	// else is accepted before it.
	handshaken := false
	raw.SetReadDeadline(time.Now().Add(handshakeTimeout))

	stopBeat := make(chan struct{})
	defer close(stopBeat)

	err = cc.readLoop(func(msg *protocol.Message) error {
		if !handshaken {
			if msg.Type != protocol.MsgHelloAck {
				return fmt.Errorf("%w: got %s", ErrHandshakeFirst, msg.Type)
			}
			payload, err := protocol.DecodePayload(msg)
			if err != nil {
				return err
			}
			ack, _ := payload.(*protocol.HelloAckPayload)
			if ack == nil || ack.Status != protocol.StatusAccepted {
				reason := ""
				if ack != nil {
					reason = ack.Message
				}
				return fmt.Errorf("%w: %s", ErrHandshakeReject, reason)
			}

			handshaken = true
			raw.SetReadDeadline(time.Time{})

			c.mu.Lock()
			c.conn = cc
			c.session = ack.SessionID
			c.mu.Unlock()

			log.Printf("Session Client: Connected to %s (session %s)", ack.ServerName, ack.SessionID)
			go c.heartbeatLoop(cc, stopBeat)
			if c.OnConnected != nil {
				c.OnConnected(ack)
			}
			return nil
		}

		switch msg.Type {
		case protocol.MsgPing:
			return cc.send(protocol.MsgPong, protocol.FlagNone,
				&protocol.PongPayload{Timestamp: time.Now().UnixMilli()})
		case protocol.MsgPong:
			return nil
		case protocol.MsgDisconnect:
			return errors.New("session: server closed the session")
		default:
			if c.OnMessage != nil {
				c.OnMessage(msg)
			}
			return nil
		}
	})

	c.mu.Lock()
	if c.conn == cc {
		c.conn = nil
		c.session = ""
	}
	c.mu.Unlock()

	if !handshaken {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrHandshakeTimeout
		}
	}
	return err
}

// heartbeatLoop pings at a fixed interval, independent of traffic.
func (c *Client) heartbeatLoop(cc *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := cc.send(protocol.MsgPing, protocol.FlagNone,
				&protocol.PingPayload{Timestamp: time.Now().UnixMilli()})
			if err != nil {
				return
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}
