// Package protocol defines the wire protocol used between the
// controlling host and controlled peers: message types, flag bits and
// the typed payloads carried by each frame.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of payload a frame carries.
type MessageType uint8

// Message type values, grouped by category. The numbering is part of
// the wire format and must not change.
const (
	// Connection management (0x00 - 0x0F)
	MsgHello      MessageType = 0x01 // client handshake request
	MsgHelloAck   MessageType = 0x02 // server handshake response
	MsgPing       MessageType = 0x03 // heartbeat
	MsgPong       MessageType = 0x04 // heartbeat response
	MsgDisconnect MessageType = 0x05 // orderly disconnect

	// Pointer and key events (0x10 - 0x2F)
	MsgMouseMove  MessageType = 0x10
	MsgMouseDown  MessageType = 0x11
	MsgMouseUp    MessageType = 0x12
	MsgMouseWheel MessageType = 0x13
	MsgKeyDown    MessageType = 0x20
	MsgKeyUp      MessageType = 0x21

	// Focus control (0x30 - 0x4F)
	MsgSwitchIn     MessageType = 0x30 // control moves to the receiving device
	MsgSwitchOut    MessageType = 0x31 // control leaves the receiving device
	MsgLockCursor   MessageType = 0x32
	MsgUnlockCursor MessageType = 0x33

	// Configuration info (0x60 - 0x6F)
	MsgScreenInfo MessageType = 0x60
	MsgDeviceInfo MessageType = 0x61

	// Status and errors (0x70 - 0x7F)
	MsgError  MessageType = 0x70
	MsgStatus MessageType = 0x71
)

// Flag bits carried in the frame header. Advisory for now.
const (
	FlagNone       uint8 = 0x00
	FlagEncrypted  uint8 = 0x01
	FlagCompressed uint8 = 0x02
	FlagPriority   uint8 = 0x04
	FlagReliable   uint8 = 0x08
)

// Modifier key bitmask values used in key payloads.
const (
	ModShift uint16 = 0x01
	ModCtrl  uint16 = 0x02
	ModAlt   uint16 = 0x04
	ModMeta  uint16 = 0x08
	ModCaps  uint16 = 0x10
	ModNum   uint16 = 0x20
)

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello_ack"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgDisconnect:
		return "disconnect"
	case MsgMouseMove:
		return "mouse_move"
	case MsgMouseDown:
		return "mouse_down"
	case MsgMouseUp:
		return "mouse_up"
	case MsgMouseWheel:
		return "mouse_wheel"
	case MsgKeyDown:
		return "key_down"
	case MsgKeyUp:
		return "key_up"
	case MsgSwitchIn:
		return "switch_in"
	case MsgSwitchOut:
		return "switch_out"
	case MsgLockCursor:
		return "lock_cursor"
	case MsgUnlockCursor:
		return "unlock_cursor"
	case MsgScreenInfo:
		return "screen_info"
	case MsgDeviceInfo:
		return "device_info"
	case MsgError:
		return "error"
	case MsgStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(t))
	}
}

// Known reports whether t is a defined message type. Unknown types are
// a protocol violation and close the connection.
func (t MessageType) Known() bool {
	switch t {
	case MsgHello, MsgHelloAck, MsgPing, MsgPong, MsgDisconnect,
		MsgMouseMove, MsgMouseDown, MsgMouseUp, MsgMouseWheel,
		MsgKeyDown, MsgKeyUp,
		MsgSwitchIn, MsgSwitchOut, MsgLockCursor, MsgUnlockCursor,
		MsgScreenInfo, MsgDeviceInfo, MsgError, MsgStatus:
		return true
	}
	return false
}

// Message is one decoded frame.
type Message struct {
	Type      MessageType
	Flags     uint8
	Sequence  uint64
	Timestamp int64 // ms since epoch, capture time
	Payload   []byte
}

// ScreenInfo describes one screen of a device, as carried in hello and
// screen_info payloads.
type ScreenInfo struct {
	Index     int    `json:"index"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	IsPrimary bool   `json:"is_primary"`
	Name      string `json:"name,omitempty"`
}

// HelloPayload is the device descriptor sent by a connecting peer.
type HelloPayload struct {
	DeviceID   string       `json:"device_id"`
	DeviceName string       `json:"device_name"`
	OSType     string       `json:"os_type"`
	Screens    []ScreenInfo `json:"screens"`
}

// Handshake status values for HelloAckPayload.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// HelloAckPayload is the server's answer to a hello.
type HelloAckPayload struct {
	Status     string `json:"status"`
	ServerName string `json:"server_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// MouseMovePayload carries either an absolute position or a relative
// delta. Relative deltas are what cross the wire while a remote device
// owns focus; absolute positions appear only in entry positioning.
type MouseMovePayload struct {
	X        int  `json:"x,omitempty"`
	Y        int  `json:"y,omitempty"`
	Relative bool `json:"relative,omitempty"`
	DX       int  `json:"dx,omitempty"`
	DY       int  `json:"dy,omitempty"`
}

// MouseButtonPayload is shared by mouse_down and mouse_up.
type MouseButtonPayload struct {
	Button  int  `json:"button"` // 1=left, 2=right, 3=middle
	Pressed bool `json:"pressed"`
	X       int  `json:"x,omitempty"`
	Y       int  `json:"y,omitempty"`
}

// MouseWheelPayload carries scroll deltas for both axes.
type MouseWheelPayload struct {
	DeltaX int `json:"delta_x"`
	DeltaY int `json:"delta_y"`
	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
}

// KeyPayload is shared by key_down and key_up.
type KeyPayload struct {
	KeyCode   uint16 `json:"key_code"`
	Char      string `json:"char,omitempty"`
	Modifiers uint16 `json:"modifiers,omitempty"`
	IsRepeat  bool   `json:"is_repeat,omitempty"`
}

// SwitchInPayload tells the receiving device which edge control came
// in through and where the cursor should appear.
type SwitchInPayload struct {
	Edge string `json:"edge"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// SwitchOutPayload reports control leaving the sending device.
type SwitchOutPayload struct {
	Reason string `json:"reason,omitempty"` // "escape", "edge", ""
}

// PingPayload carries the sender's clock for latency observation.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload mirrors PingPayload.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// StatusPayload is a free-form status report.
type StatusPayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload reports a protocol-level error to the peer before the
// connection is closed.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DecodePayload unmarshals the payload of m into its typed struct.
// Message types that carry no payload return nil.
func DecodePayload(m *Message) (interface{}, error) {
	var v interface{}
	switch m.Type {
	case MsgHello:
		v = new(HelloPayload)
	case MsgHelloAck:
		v = new(HelloAckPayload)
	case MsgMouseMove:
		v = new(MouseMovePayload)
	case MsgMouseDown, MsgMouseUp:
		v = new(MouseButtonPayload)
	case MsgMouseWheel:
		v = new(MouseWheelPayload)
	case MsgKeyDown, MsgKeyUp:
		v = new(KeyPayload)
	case MsgSwitchIn:
		v = new(SwitchInPayload)
	case MsgSwitchOut:
		v = new(SwitchOutPayload)
	case MsgPing:
		v = new(PingPayload)
	case MsgPong:
		v = new(PongPayload)
	case MsgStatus:
		v = new(StatusPayload)
	case MsgError:
		v = new(ErrorPayload)
	default:
		return nil, nil
	}
	if len(m.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return nil, fmt.Errorf("protocol: bad %s payload: %w", m.Type, err)
	}
	return v, nil
}
