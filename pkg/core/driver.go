package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Driver is the platform-neutral action vocabulary. Each platform driver
// translates these calls into its automation bridge's wire protocol.
//
// Every call blocks until the bridge answers or ctx is done. All operations
// other than Launch and IsRunning require an active session and fail with
// ErrNotConnected otherwise. Operations on a handle that the session does
// not know fail with ErrElementNotFound.
type Driver interface {
	Platform() Platform

	// Session lifecycle
	Launch(ctx context.Context, cfg LaunchConfig) error
	Terminate(ctx context.Context) error
	Reset(ctx context.Context) error
	IsRunning() bool

	// FindElement returns ErrElementNotFound when nothing matches.
	FindElement(ctx context.Context, sel Selector) (ElementHandle, error)
	// FindElements returns an empty slice when nothing matches.
	FindElements(ctx context.Context, sel Selector) ([]ElementHandle, error)

	// Gestures
	Tap(ctx context.Context, h ElementHandle) error
	DoubleTap(ctx context.Context, h ElementHandle) error
	LongPress(ctx context.Context, h ElementHandle, duration time.Duration) error
	TypeText(ctx context.Context, h ElementHandle, text string) error
	ClearText(ctx context.Context, h ElementHandle) error
	Swipe(ctx context.Context, h ElementHandle, dir Direction) error
	Scroll(ctx context.Context, h ElementHandle, dir Direction, amount float64) error

	// Queries
	Exists(ctx context.Context, h ElementHandle) (bool, error)
	IsVisible(ctx context.Context, h ElementHandle) (bool, error)
	IsEnabled(ctx context.Context, h ElementHandle) (bool, error)
	GetText(ctx context.Context, h ElementHandle) (string, error)
	GetAttribute(ctx context.Context, h ElementHandle, name string) (string, error)
	GetRect(ctx context.Context, h ElementHandle) (Rect, error)

	// Capture
	TakeScreenshot(ctx context.Context) (*Screenshot, error)
	TakeElementScreenshot(ctx context.Context, h ElementHandle) (*Screenshot, error)
}

// ElementHandle is an opaque reference to a remote element, issued by
// FindElement/FindElements and valid only for the session that issued it.
// Zero is never issued.
type ElementHandle uint64

// Platform identifies a target automation platform.
type Platform string

// Supported platforms
const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformWatchOS Platform = "watchos"
	PlatformAndroid Platform = "android"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{
	PlatformWeb, PlatformIOS, PlatformWatchOS, PlatformAndroid, PlatformMacOS, PlatformLinux,
}

// ParsePlatform parses a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// DefaultPort returns the port the platform's bridge listens on by default.
func (p Platform) DefaultPort() int {
	switch p {
	case PlatformWeb:
		return 9515
	case PlatformIOS, PlatformWatchOS:
		return 8100
	case PlatformAndroid:
		return 4723
	case PlatformMacOS:
		return 8200
	case PlatformLinux:
		return 8300
	default:
		return 0
	}
}

// Direction is a swipe or scroll direction.
type Direction string

// Directions
const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Rect represents element position and size. Bridges report integer or
// fractional coordinates; both are normalised to float64.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the rect
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Contains checks if a point is within the rect
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// DriverConfig locates a bridge.
type DriverConfig struct {
	Host    string
	Port    int
	Timeout time.Duration // Per-request HTTP timeout

	// RequestsPerSecond throttles calls to the bridge. Zero disables it.
	RequestsPerSecond float64
}

// DefaultDriverConfig returns the default bridge location for a platform.
func DefaultDriverConfig(p Platform) DriverConfig {
	return DriverConfig{
		Host:    "127.0.0.1",
		Port:    p.DefaultPort(),
		Timeout: 30 * time.Second,
	}
}

// LaunchConfig describes the application under test. Each platform reads
// the fields it understands and ignores the rest.
type LaunchConfig struct {
	AppID           string // Bundle ID, package name, or desktop app identifier
	Activity        string // Android launch activity
	DeviceID        string // UDID / serial
	DeviceName      string
	PlatformVersion string
	AutomationName  string // Android automation backend, default UiAutomator2

	// watchOS
	CompanionDeviceID string

	// Web
	Browser        string // chromium, firefox, webkit
	Headless       bool
	URL            string
	ViewportWidth  int
	ViewportHeight int

	// Linux desktop
	Executable  string
	Args        []string
	DesktopFile string
	WorkingDir  string

	// Extra capabilities merged into the session request verbatim.
	Capabilities map[string]interface{}
}
