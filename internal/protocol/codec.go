package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"time"
)

// Frame layout (network byte order):
//
//	magic(1) version(1) type(1) flags(1) payloadLen(4) seq(8) ts(8)
//	= 24 byte header, then payloadLen bytes of JSON, then CRC-32(4)
//	computed over header + payload.
const (
	Magic      uint8 = 0x4D // 'M'
	Version    uint8 = 0x01
	HeaderSize       = 24
	TrailerLen       = 4

	// MaxPayload bounds the declared payload length a decoder will
	// accept. Anything larger is treated as a desynchronized stream.
	MaxPayload = 1 << 20
)

// Decode errors, ordered by severity. Framing errors are fatal to the
// connection; ErrShortFrame means the caller must buffer more bytes;
// ErrChecksum drops the single frame and keeps the connection.
var (
	ErrBadMagic    = errors.New("protocol: bad magic")
	ErrBadVersion  = errors.New("protocol: version mismatch")
	ErrBadLength   = errors.New("protocol: declared payload length out of range")
	ErrShortFrame  = errors.New("protocol: incomplete frame")
	ErrChecksum    = errors.New("protocol: checksum mismatch")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// IsFatal reports whether a decode error means the stream is
// desynchronized and the connection must be dropped (or resynced),
// as opposed to a single corrupt or incomplete frame.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrBadVersion) ||
		errors.Is(err, ErrBadLength) ||
		errors.Is(err, ErrUnknownType)
}

// Encoder frames outgoing messages. It owns the per-connection
// sequence counter; sequence numbers are unique and strictly
// increasing for the lifetime of one Encoder. Safe for concurrent use.
type Encoder struct {
	seq atomic.Uint64
}

// Encode marshals payload to JSON (nil payload encodes an empty
// payload) and wraps it in a checksummed frame.
func (e *Encoder) Encode(t MessageType, flags uint8, payload interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", t, err)
		}
	}
	return e.EncodeRaw(t, flags, body), nil
}

// EncodeRaw frames an already-serialized payload.
func (e *Encoder) EncodeRaw(t MessageType, flags uint8, body []byte) []byte {
	seq := e.seq.Add(1)
	buf := make([]byte, HeaderSize+len(body)+TrailerLen)
	buf[0] = Magic
	buf[1] = Version
	buf[2] = uint8(t)
	buf[3] = flags
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	binary.BigEndian.PutUint64(buf[8:16], seq)
	binary.BigEndian.PutUint64(buf[16:24], uint64(time.Now().UnixMilli()))
	copy(buf[HeaderSize:], body)

	sum := crc32.ChecksumIEEE(buf[:HeaderSize+len(body)])
	binary.BigEndian.PutUint32(buf[HeaderSize+len(body):], sum)
	return buf
}

// Sequence returns the last sequence number assigned.
func (e *Encoder) Sequence() uint64 {
	return e.seq.Load()
}

// PeekLength inspects a frame header and returns the total length of
// the frame (header + payload + checksum). It returns 0 when fewer
// than HeaderSize bytes are available, and an error when the header
// itself is invalid (the stream is desynchronized).
func PeekLength(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, nil
	}
	if data[0] != Magic {
		return 0, ErrBadMagic
	}
	if data[1] != Version {
		return 0, ErrBadVersion
	}
	payloadLen := binary.BigEndian.Uint32(data[4:8])
	if payloadLen > MaxPayload {
		return 0, ErrBadLength
	}
	return HeaderSize + int(payloadLen) + TrailerLen, nil
}

// Decode parses one complete frame from data. data must hold exactly
// the bytes reported by PeekLength; extra bytes are tolerated and
// ignored so callers can pass a buffer prefix.
func Decode(data []byte) (*Message, error) {
	total, err := PeekLength(data)
	if err != nil {
		return nil, err
	}
	if total == 0 || len(data) < total {
		return nil, ErrShortFrame
	}

	// Verify the checksum before trusting any header field beyond the
	// length: a corrupt frame may have a corrupt type byte.
	payloadLen := total - HeaderSize - TrailerLen
	want := binary.BigEndian.Uint32(data[total-TrailerLen : total])
	got := crc32.ChecksumIEEE(data[:HeaderSize+payloadLen])
	if want != got {
		return nil, fmt.Errorf("%w: want %08x got %08x", ErrChecksum, want, got)
	}

	t := MessageType(data[2])
	if !t.Known() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, data[2])
	}

	msg := &Message{
		Type:      t,
		Flags:     data[3],
		Sequence:  binary.BigEndian.Uint64(data[8:16]),
		Timestamp: int64(binary.BigEndian.Uint64(data[16:24])),
	}
	if payloadLen > 0 {
		msg.Payload = make([]byte, payloadLen)
		copy(msg.Payload, data[HeaderSize:HeaderSize+payloadLen])
	}
	return msg, nil
}
