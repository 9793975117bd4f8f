package bridge

import (
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// PointerAction is a single W3C pointer input action.
type PointerAction = map[string]interface{}

// Pointer types
const (
	PointerTouch = "touch"
	PointerMouse = "mouse"
)

// ActionsRequest wraps pointer actions into a POST /session/{id}/actions body.
func ActionsRequest(pointerType string, actions []PointerAction) map[string]interface{} {
	return map[string]interface{}{
		"actions": []map[string]interface{}{
			{
				"type":       "pointer",
				"id":         "finger1",
				"parameters": map[string]interface{}{"pointerType": pointerType},
				"actions":    actions,
			},
		},
	}
}

// TapActions performs a tap at viewport coordinates.
func TapActions(x, y float64) []PointerAction {
	return []PointerAction{
		{"type": "pointerMove", "duration": 0, "x": int(x), "y": int(y), "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	}
}

// DoubleTapActions performs two taps 100ms apart.
func DoubleTapActions(x, y float64) []PointerAction {
	return []PointerAction{
		{"type": "pointerMove", "duration": 0, "x": int(x), "y": int(y), "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerUp", "button": 0},
		{"type": "pause", "duration": 100},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerUp", "button": 0},
	}
}

// LongPressActions holds the pointer down for d.
func LongPressActions(x, y float64, d time.Duration) []PointerAction {
	return []PointerAction{
		{"type": "pointerMove", "duration": 0, "x": int(x), "y": int(y), "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": d.Milliseconds()},
		{"type": "pointerUp", "button": 0},
	}
}

// DragActions moves the pointer from one point to another over d.
func DragActions(fromX, fromY, toX, toY float64, d time.Duration) []PointerAction {
	return []PointerAction{
		{"type": "pointerMove", "duration": 0, "x": int(fromX), "y": int(fromY), "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerMove", "duration": d.Milliseconds(), "x": int(toX), "y": int(toY), "origin": "viewport"},
		{"type": "pointerUp", "button": 0},
	}
}

// DefaultSwipeFraction is the share of an element's extent a swipe covers.
const DefaultSwipeFraction = 0.6

// SwipeVector returns start and end points for a finger moving in dir
// across r, centred on r and covering fraction of its extent.
func SwipeVector(r core.Rect, dir core.Direction, fraction float64) (fromX, fromY, toX, toY float64) {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultSwipeFraction
	}
	cx, cy := r.Center()
	dx := r.Width * fraction / 2
	dy := r.Height * fraction / 2
	switch dir {
	case core.DirectionUp:
		return cx, cy + dy, cx, cy - dy
	case core.DirectionDown:
		return cx, cy - dy, cx, cy + dy
	case core.DirectionLeft:
		return cx + dx, cy, cx - dx, cy
	default:
		return cx - dx, cy, cx + dx, cy
	}
}

// ScrollVector returns the finger path that scrolls r's content in dir.
// Scrolling down reveals content below, so the finger moves up.
func ScrollVector(r core.Rect, dir core.Direction, amount float64) (fromX, fromY, toX, toY float64) {
	return SwipeVector(r, Opposite(dir), amount)
}

// Opposite returns the reverse direction.
func Opposite(dir core.Direction) core.Direction {
	switch dir {
	case core.DirectionUp:
		return core.DirectionDown
	case core.DirectionDown:
		return core.DirectionUp
	case core.DirectionLeft:
		return core.DirectionRight
	default:
		return core.DirectionLeft
	}
}
