// Package session owns the transport connections for both roles: the
// listener on the controller and the dialer on controlled peers. It
// applies the wire codec over the byte stream, gates handshakes,
// drives heartbeats and reconnection, and hands decoded messages to
// the layer above.
package session

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/orz-ai/mkshare/internal/protocol"
)

// Session errors.
var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrSendQueueFull    = errors.New("session: send queue full")
	ErrHandshakeFirst   = errors.New("session: message before handshake")
	ErrHandshakeReject  = errors.New("session: handshake rejected")
	ErrHandshakeTimeout = errors.New("session: handshake timed out")
)

const (
	readChunk     = 4096
	sendQueueLen  = 256
	moveQueueLen  = 64
	sendTimeout   = 250 * time.Millisecond
	writeDeadline = 10 * time.Second
)

// conn wraps one transport connection with framing and a buffered
// send path. A single writer goroutine owns all socket writes; the
// per-connection Encoder keeps sequence numbers strictly increasing.
//
// Mouse moves go through their own small queue and are dropped oldest
// first when it overflows: a stale relative delta is worthless, while
// clicks and keys must never be dropped and instead block briefly.
type conn struct {
	raw   net.Conn
	enc   protocol.Encoder
	sends chan []byte
	moves chan []byte
	done  chan struct{}
	wdone chan struct{} // closed when the write loop exits
	once  sync.Once
}

func newConn(raw net.Conn) *conn {
	c := &conn{
		raw:   raw,
		sends: make(chan []byte, sendQueueLen),
		moves: make(chan []byte, moveQueueLen),
		done:  make(chan struct{}),
		wdone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// send encodes and enqueues one message.
func (c *conn) send(t protocol.MessageType, flags uint8, payload interface{}) error {
	frame, err := c.enc.Encode(t, flags, payload)
	if err != nil {
		return err
	}
	if t == protocol.MsgMouseMove {
		c.queueMove(frame)
		return nil
	}

	select {
	case c.sends <- frame:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-time.After(sendTimeout):
		// A stalled peer must not freeze the capture path.
		return ErrSendQueueFull
	}
}

// queueMove enqueues a move frame, evicting the oldest queued move
// when the queue is full.
func (c *conn) queueMove(frame []byte) {
	for {
		select {
		case c.moves <- frame:
			return
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.moves:
		default:
		}
	}
}

// writeLoop is the only goroutine writing to the socket. Control and
// event frames take priority over queued moves.
func (c *conn) writeLoop() {
	defer close(c.wdone)
	for {
		var frame []byte
		select {
		case frame = <-c.sends:
		case <-c.done:
			c.drainSends()
			return
		default:
			select {
			case frame = <-c.sends:
			case frame = <-c.moves:
			case <-c.done:
				c.drainSends()
				return
			}
		}

		c.raw.SetWriteDeadline(time.Now().Add(writeDeadline))
		if _, err := c.raw.Write(frame); err != nil {
			log.Printf("Session: Write error: %v", err)
			c.abort()
			return
		}
	}
}

// drainSends flushes control frames that were queued before shutdown,
// so a final error or disconnect notice still reaches the peer. Queued
// moves are discarded.
func (c *conn) drainSends() {
	for {
		select {
		case frame := <-c.sends:
			c.raw.SetWriteDeadline(time.Now().Add(sendTimeout))
			if _, err := c.raw.Write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readLoop reads the stream, reassembles frames and hands each decoded
// message to handle. It returns when the transport fails, when a fatal
// framing/protocol error desynchronizes the stream, or when handle
// returns an error.
//
// Corrupt frames (checksum mismatch) are dropped and the connection
// kept; a bad magic byte makes the reader scan forward one byte at a
// time looking for the next frame start.
func (c *conn) readLoop(handle func(*protocol.Message) error) error {
	var buf []byte
	tmp := make([]byte, readChunk)

	for {
		n, err := c.raw.Read(tmp)
		if err != nil {
			return err
		}
		buf = append(buf, tmp[:n]...)

		for {
			total, err := protocol.PeekLength(buf)
			if errors.Is(err, protocol.ErrBadMagic) {
				buf = buf[1:]
				continue
			}
			if err != nil {
				return err
			}
			if total == 0 || len(buf) < total {
				break // incomplete, read more
			}

			frame := buf[:total]
			buf = buf[total:]

			msg, err := protocol.Decode(frame)
			if err != nil {
				if errors.Is(err, protocol.ErrChecksum) {
					log.Printf("Session: Dropping corrupt frame: %v", err)
					continue
				}
				return err
			}
			if err := handle(msg); err != nil {
				return err
			}
		}
	}
}

// close shuts the connection down and unblocks any pending read or
// queued send. It gives the write loop a short window to flush frames
// already queued before the socket is torn down.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		select {
		case <-c.wdone:
		case <-time.After(sendTimeout):
		}
		c.raw.Close()
	})
}

// abort closes immediately without flushing. Only the write loop uses
// it: after a write error there is nothing left to flush, and waiting
// on its own exit would deadlock.
func (c *conn) abort() {
	c.once.Do(func() {
		close(c.done)
		c.raw.Close()
	})
}
