//go:build windows

package input

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/orz-ai/mkshare/internal/device"
	"github.com/orz-ai/mkshare/internal/protocol"
)

// Windows backend: capture through low-level mouse and keyboard hooks,
// injection through SendInput. Suppression swallows hooked events
// instead of passing them down the hook chain, which is what keeps the
// local desktop inert while a remote device owns focus.

const (
	whMouseLL    = 14
	whKeyboardLL = 13

	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmMouseWheel  = 0x020A
	wmMouseHWheel = 0x020E
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmSysKeyDown  = 0x0104
	wmSysKeyUp    = 0x0105
	wmQuit        = 0x0012

	wheelDelta = 120

	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C

	inputMouse    = 0
	inputKeyboard = 1

	mouseEventfMove       = 0x0001
	mouseEventfLeftDown   = 0x0002
	mouseEventfLeftUp     = 0x0004
	mouseEventfRightDown  = 0x0008
	mouseEventfRightUp    = 0x0010
	mouseEventfMiddleDown = 0x0020
	mouseEventfMiddleUp   = 0x0040
	mouseEventfWheel      = 0x0800
	mouseEventfHWheel     = 0x1000
	mouseEventfAbsolute   = 0x8000

	keyEventfKeyUp = 0x0002

	smCxScreen = 0
	smCyScreen = 1
)

var (
	user32                = syscall.NewLazyDLL("user32.dll")
	kernel32              = syscall.NewLazyDLL("kernel32.dll")
	procSetWindowsHookEx  = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHook = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx    = user32.NewProc("CallNextHookEx")
	procGetMessage        = user32.NewProc("GetMessageW")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
	procGetCursorPos      = user32.NewProc("GetCursorPos")
	procSetCursorPos      = user32.NewProc("SetCursorPos")
	procSendInput         = user32.NewProc("SendInput")
	procGetSystemMetrics  = user32.NewProc("GetSystemMetrics")
	procGetCurrentThread  = kernel32.NewProc("GetCurrentThreadId")
)

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    syscall.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
}

type msllHookStruct struct {
	Pt          point
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type winCapture struct {
	events chan Event

	mu         sync.Mutex
	suppressed bool
	running    bool
	threadID   uint32
	mouseHook  syscall.Handle
	keyHook    syscall.Handle
	haveLast   bool
	lastX      int32
	lastY      int32
	modifiers  uint16
}

// NewCapture returns the platform capture hook.
func NewCapture() Capture {
	return &winCapture{events: make(chan Event, 256)}
}

func (c *winCapture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("input: capture already running")
	}
	c.running = true
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.hookThread(ready)
	return <-ready
}

// hookThread installs the hooks and pumps messages. Low-level hooks
// are serviced on the thread that installed them, so that thread stays
// locked to the OS thread for the capture's lifetime.
func (c *winCapture) hookThread(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid, _, _ := procGetCurrentThread.Call()
	c.mu.Lock()
	c.threadID = uint32(tid)
	c.mu.Unlock()

	mh, _, err := procSetWindowsHookEx.Call(whMouseLL, syscall.NewCallback(c.mouseProc), 0, 0)
	if mh == 0 {
		ready <- fmt.Errorf("input: install mouse hook: %v", err)
		return
	}
	kh, _, err := procSetWindowsHookEx.Call(whKeyboardLL, syscall.NewCallback(c.keyProc), 0, 0)
	if kh == 0 {
		procUnhookWindowsHook.Call(mh)
		ready <- fmt.Errorf("input: install keyboard hook: %v", err)
		return
	}
	c.mu.Lock()
	c.mouseHook = syscall.Handle(mh)
	c.keyHook = syscall.Handle(kh)
	c.mu.Unlock()
	ready <- nil

	var m msg
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(ret) <= 0 {
			break
		}
	}

	procUnhookWindowsHook.Call(mh)
	procUnhookWindowsHook.Call(kh)
}

func (c *winCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	if c.threadID != 0 {
		procPostThreadMessage.Call(uintptr(c.threadID), wmQuit, 0, 0)
	}
	return nil
}

func (c *winCapture) Events() <-chan Event {
	return c.events
}

func (c *winCapture) SetSuppressed(v bool) {
	c.mu.Lock()
	c.suppressed = v
	c.haveLast = false
	c.mu.Unlock()
}

func (c *winCapture) Position() (int, int) {
	var pt point
	procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	return int(pt.X), int(pt.Y)
}

func (c *winCapture) Warp(x, y int) error {
	ret, _, err := procSetCursorPos.Call(uintptr(x), uintptr(y))
	if ret == 0 {
		return fmt.Errorf("input: warp cursor: %v", err)
	}
	c.mu.Lock()
	c.lastX, c.lastY = int32(x), int32(y)
	c.haveLast = true
	c.mu.Unlock()
	return nil
}

func (c *winCapture) push(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	select {
	case c.events <- ev:
	default:
		// Hook callbacks must never block.
	}
}

func (c *winCapture) mouseProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode < 0 {
		ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
		return ret
	}
	hs := (*msllHookStruct)(unsafe.Pointer(lParam))

	ev := Event{X: int(hs.Pt.X), Y: int(hs.Pt.Y)}
	switch uint32(wParam) {
	case wmMouseMove:
		ev.Kind = KindMouseMove
		c.mu.Lock()
		if c.haveLast {
			ev.DX = int(hs.Pt.X - c.lastX)
			ev.DY = int(hs.Pt.Y - c.lastY)
		}
		c.lastX, c.lastY = hs.Pt.X, hs.Pt.Y
		c.haveLast = true
		c.mu.Unlock()
	case wmLButtonDown:
		ev.Kind, ev.Button, ev.Pressed = KindMouseButton, 1, true
	case wmLButtonUp:
		ev.Kind, ev.Button = KindMouseButton, 1
	case wmRButtonDown:
		ev.Kind, ev.Button, ev.Pressed = KindMouseButton, 2, true
	case wmRButtonUp:
		ev.Kind, ev.Button = KindMouseButton, 2
	case wmMButtonDown:
		ev.Kind, ev.Button, ev.Pressed = KindMouseButton, 3, true
	case wmMButtonUp:
		ev.Kind, ev.Button = KindMouseButton, 3
	case wmMouseWheel:
		ev.Kind = KindMouseWheel
		ev.WheelY = int(int16(hs.MouseData>>16)) / wheelDelta
	case wmMouseHWheel:
		ev.Kind = KindMouseWheel
		ev.WheelX = int(int16(hs.MouseData>>16)) / wheelDelta
	}
	if ev.Kind != 0 {
		c.push(ev)
	}

	c.mu.Lock()
	suppressed := c.suppressed
	c.mu.Unlock()
	if suppressed {
		return 1
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func (c *winCapture) keyProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode < 0 {
		ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
		return ret
	}
	hs := (*kbdllHookStruct)(unsafe.Pointer(lParam))

	pressed := false
	switch uint32(wParam) {
	case wmKeyDown, wmSysKeyDown:
		pressed = true
	case wmKeyUp, wmSysKeyUp:
	default:
		ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
		return ret
	}

	c.mu.Lock()
	c.trackModifier(uint16(hs.VkCode), pressed)
	mods := c.modifiers
	suppressed := c.suppressed
	c.mu.Unlock()

	c.push(Event{
		Kind:      KindKey,
		KeyCode:   uint16(hs.VkCode),
		Pressed:   pressed,
		Modifiers: mods,
	})

	if suppressed {
		return 1
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

// trackModifier maintains the modifier bitmask from raw key traffic.
// Called with the mutex held.
func (c *winCapture) trackModifier(vk uint16, pressed bool) {
	var bit uint16
	switch vk {
	case vkShift, 0xA0, 0xA1:
		bit = protocol.ModShift
	case vkControl, 0xA2, 0xA3:
		bit = protocol.ModCtrl
	case vkMenu, 0xA4, 0xA5:
		bit = protocol.ModAlt
	case vkLWin, vkRWin:
		bit = protocol.ModMeta
	default:
		return
	}
	if pressed {
		c.modifiers |= bit
	} else {
		c.modifiers &^= bit
	}
}

type mouseInput struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type keybdInput struct {
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
	// Pad to the size of the larger MOUSEINPUT union member.
	_ [8]byte
}

type winInput struct {
	Type uint32
	_    uint32 // alignment before the union
	Mi   mouseInput
}

type winReplayer struct{}

// NewReplayer returns the platform injection hook.
func NewReplayer() Replayer {
	return &winReplayer{}
}

func sendInput(in *winInput) error {
	ret, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(in)), unsafe.Sizeof(*in))
	if ret != 1 {
		return fmt.Errorf("input: SendInput: %v", err)
	}
	return nil
}

func (r *winReplayer) MoveAbsolute(x, y int) error {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if w == 0 || h == 0 {
		return fmt.Errorf("input: screen metrics unavailable")
	}
	return sendInput(&winInput{
		Type: inputMouse,
		Mi: mouseInput{
			Dx:      int32(x * 65535 / int(w)),
			Dy:      int32(y * 65535 / int(h)),
			DwFlags: mouseEventfMove | mouseEventfAbsolute,
		},
	})
}

func (r *winReplayer) MoveRelative(dx, dy int) error {
	return sendInput(&winInput{
		Type: inputMouse,
		Mi:   mouseInput{Dx: int32(dx), Dy: int32(dy), DwFlags: mouseEventfMove},
	})
}

func (r *winReplayer) Button(button int, pressed bool) error {
	var flags uint32
	switch {
	case button == 1 && pressed:
		flags = mouseEventfLeftDown
	case button == 1:
		flags = mouseEventfLeftUp
	case button == 2 && pressed:
		flags = mouseEventfRightDown
	case button == 2:
		flags = mouseEventfRightUp
	case button == 3 && pressed:
		flags = mouseEventfMiddleDown
	case button == 3:
		flags = mouseEventfMiddleUp
	default:
		return fmt.Errorf("input: unknown button %d", button)
	}
	return sendInput(&winInput{Type: inputMouse, Mi: mouseInput{DwFlags: flags}})
}

func (r *winReplayer) Wheel(dx, dy int) error {
	if dy != 0 {
		err := sendInput(&winInput{
			Type: inputMouse,
			Mi:   mouseInput{MouseData: uint32(int32(dy * wheelDelta)), DwFlags: mouseEventfWheel},
		})
		if err != nil {
			return err
		}
	}
	if dx != 0 {
		return sendInput(&winInput{
			Type: inputMouse,
			Mi:   mouseInput{MouseData: uint32(int32(dx * wheelDelta)), DwFlags: mouseEventfHWheel},
		})
	}
	return nil
}

func (r *winReplayer) Key(code uint16, pressed bool, modifiers uint16) error {
	var flags uint32
	if !pressed {
		flags = keyEventfKeyUp
	}
	in := winInput{Type: inputKeyboard}
	ki := (*keybdInput)(unsafe.Pointer(&in.Mi))
	ki.WVk = code
	ki.DwFlags = flags
	return sendInput(&in)
}

// Screens reports the primary screen geometry.
func Screens() []device.Screen {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if w == 0 || h == 0 {
		w, h = 1920, 1080
	}
	return []device.Screen{{Width: int(w), Height: int(h), IsPrimary: true, Name: "primary"}}
}
