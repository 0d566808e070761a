package input

import "github.com/orz-ai/mkshare/internal/device"

// Recenter decides whether the suppressed local cursor, held on screen
// while a remote device owns focus, has drifted close enough to the
// capture region's edge that it must be snapped back to the center.
// The snap target is returned so the caller can perform the jump and
// exclude it from forwarded deltas: the delta for a sample is computed
// against the previous raw position before any recentering.
//
// margin is how close to the edge the cursor may get before snapping;
// it should comfortably exceed the edge-trigger threshold so a held
// cursor can never fire a local edge trigger.
func Recenter(s device.Screen, x, y, margin int) (cx, cy int, snap bool) {
	cx = s.X + s.Width/2
	cy = s.Y + s.Height/2

	if x-s.X < margin || s.X+s.Width-x <= margin ||
		y-s.Y < margin || s.Y+s.Height-y <= margin {
		return cx, cy, true
	}
	return x, y, false
}
