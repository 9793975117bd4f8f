package atspi

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/bridgemock"
	"github.com/devicelab-dev/zylix-test/pkg/core"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		sel      core.Selector
		strategy string
	}{
		{core.Selector{TestID: "ok"}, StrategyName},
		{core.Selector{AccessibilityID: "ok"}, StrategyName},
		{core.Selector{Text: "OK"}, StrategyName},
		{core.Selector{TextContains: "O"}, StrategyName},
		{core.Selector{XPath: "//push_button"}, StrategyXPath},
		{core.Selector{Role: "push button"}, StrategyRole},
		{core.Selector{Description: "Saves the file"}, StrategyDescription},
	}
	for _, tt := range tests {
		loc, err := Locate(tt.sel)
		if err != nil || loc.Strategy != tt.strategy {
			t.Errorf("Locate(%s) = %+v, %v; want %s", tt.sel, loc, err, tt.strategy)
		}
	}
	for _, sel := range []core.Selector{{}, {CSS: "a"}, {ResourceID: "r"}, {ClassChain: "c"}, {Predicate: "p"}, {UIAutomator: "u"}} {
		if _, err := Locate(sel); !errors.Is(err, core.ErrInvalidSelector) {
			t.Errorf("Locate(%s): expected invalid selector, got %v", sel, err)
		}
	}
}

// startBridge mimics the AT-SPI server: always HTTP 200, errors in the body.
func startBridge(t *testing.T) *bridgemock.Server {
	t.Helper()
	ok := map[string]interface{}{"success": true}
	png := base64.StdEncoding.EncodeToString([]byte("not-a-real-png"))
	s := bridgemock.New().
		JSON("POST", "/session/new/launch", map[string]interface{}{"sessionId": "session-1", "pid": 4242, "success": true}).
		JSON("POST", "/session/new/attach", map[string]interface{}{"sessionId": "session-2", "pid": 99, "success": true}).
		JSON("POST", "/session/session-1/close", ok).
		JSON("POST", "/session/session-2/close", ok).
		JSON("POST", "/session/session-1/findElement", map[string]interface{}{"elementId": "ax-1"}).
		JSON("POST", "/session/session-1/findElements", map[string]interface{}{"elements": []string{"ax-1", "ax-2"}}).
		JSON("POST", "/session/session-1/click", ok).
		JSON("POST", "/session/session-1/type", ok).
		JSON("POST", "/session/session-1/getText", map[string]interface{}{"value": "Hello"}).
		JSON("POST", "/session/session-1/isVisible", map[string]interface{}{"value": true}).
		JSON("POST", "/session/session-1/getBounds", map[string]interface{}{"x": 5, "y": 6, "width": 70, "height": 20}).
		JSON("POST", "/session/session-1/screenshot", map[string]interface{}{"data": png}).
		JSON("POST", "/session/session-1/window", map[string]interface{}{"title": "gedit", "x": 0, "y": 0, "width": 1024, "height": 768}).
		JSON("POST", "/session/session-1/keys", ok).
		JSON("POST", "/session/session-1/longPress", map[string]interface{}{"error": "Unknown command: longPress"})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func launch(t *testing.T, s *bridgemock.Server) *Driver {
	t.Helper()
	d := New(s.DriverConfig())
	err := d.Launch(context.Background(), core.LaunchConfig{Executable: "gedit", Args: []string{"--new-window"}})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return d
}

func TestLaunch(t *testing.T) {
	s := startBridge(t)
	d := launch(t, s)

	if !d.IsRunning() || d.PID() != 4242 {
		t.Errorf("running=%v pid=%d", d.IsRunning(), d.PID())
	}
	req, _ := s.Last("POST", "/session/new/launch")
	body := req.JSON()
	if body["executable"] != "gedit" || len(body["args"].([]interface{})) != 1 {
		t.Errorf("unexpected launch body %v", body)
	}
}

func TestLaunchValidation(t *testing.T) {
	d := New(core.DriverConfig{Host: "127.0.0.1", Port: 1})
	if err := d.Launch(context.Background(), core.LaunchConfig{}); !errors.Is(err, core.ErrLaunchFailed) {
		t.Errorf("Expected launch failed, got %v", err)
	}
	if err := d.Attach(context.Background(), AttachConfig{}); !errors.Is(err, core.ErrLaunchFailed) {
		t.Errorf("Expected launch failed, got %v", err)
	}
}

func TestLaunchBridgeError(t *testing.T) {
	s := bridgemock.New().JSON("POST", "/session/new/launch", map[string]interface{}{"error": "App not found in AT-SPI tree"})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	d := New(s.DriverConfig())
	err := d.Launch(context.Background(), core.LaunchConfig{Executable: "missing"})
	if !errors.Is(err, core.ErrLaunchFailed) {
		t.Errorf("Expected launch failed, got %v", err)
	}
}

func TestAttachAndReset(t *testing.T) {
	s := startBridge(t)
	d := New(s.DriverConfig())
	ctx := context.Background()

	if err := d.Attach(ctx, AttachConfig{AppName: "gedit"}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/new/attach")
	if req.JSON()["appName"] != "gedit" {
		t.Errorf("unexpected attach body %s", req.Body)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if s.Count("POST", "/session/new/attach") != 2 || s.Count("POST", "/session/new/launch") != 0 {
		t.Error("Reset should re-attach rather than launch")
	}
}

func TestElementCommands(t *testing.T) {
	s := startBridge(t)
	d := launch(t, s)
	ctx := context.Background()

	h, err := d.FindElement(ctx, core.Selector{Role: "push button"})
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/session-1/findElement")
	if body := req.JSON(); body["strategy"] != "role" || body["value"] != "push button" {
		t.Errorf("unexpected find body %v", body)
	}

	if err := d.Tap(ctx, h); err != nil {
		t.Errorf("Tap failed: %v", err)
	}
	req, _ = s.Last("POST", "/session/session-1/click")
	if req.JSON()["elementId"] != "ax-1" {
		t.Errorf("unexpected click body %s", req.Body)
	}
	if err := d.TypeText(ctx, h, "hi"); err != nil {
		t.Errorf("TypeText failed: %v", err)
	}
	if text, err := d.GetText(ctx, h); err != nil || text != "Hello" {
		t.Errorf("GetText() = %q, %v", text, err)
	}
	if visible, err := d.IsVisible(ctx, h); err != nil || !visible {
		t.Errorf("IsVisible() = %v, %v", visible, err)
	}
	r, err := d.GetRect(ctx, h)
	if err != nil || r != (core.Rect{X: 5, Y: 6, Width: 70, Height: 20}) {
		t.Errorf("GetRect() = %+v, %v", r, err)
	}
	if ok, err := d.Exists(ctx, h); !ok || err != nil {
		t.Errorf("Exists() = %v, %v", ok, err)
	}

	if err := d.LongPress(ctx, h, time.Second); !errors.Is(err, core.ErrActionFailed) {
		t.Errorf("Expected action failed for unsupported long press, got %v", err)
	}

	handles, err := d.FindElements(ctx, core.Selector{Role: "label"})
	if err != nil || len(handles) != 2 {
		t.Errorf("FindElements() = %v, %v", handles, err)
	}
}

func TestFindElementNull(t *testing.T) {
	s := startBridge(t)
	s.JSON("POST", "/session/session-1/findElement", map[string]interface{}{"elementId": nil})
	d := launch(t, s)

	if _, err := d.FindElement(context.Background(), core.Selector{Text: "nope"}); !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("Expected element not found, got %v", err)
	}
}

func TestSessionCommands(t *testing.T) {
	s := startBridge(t)
	d := launch(t, s)
	ctx := context.Background()

	shot, err := d.TakeScreenshot(ctx)
	if err != nil {
		t.Fatalf("TakeScreenshot failed: %v", err)
	}
	if string(shot.Encoded) != "not-a-real-png" || shot.HasPixels() {
		t.Errorf("unexpected screenshot %+v", shot)
	}
	info, err := d.WindowInfo(ctx)
	if err != nil || info.Title != "gedit" || info.Rect.Width != 1024 {
		t.Errorf("WindowInfo() = %+v, %v", info, err)
	}
	if err := d.SendKeys(ctx, "abc"); err != nil {
		t.Errorf("SendKeys failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/session-1/keys")
	if req.JSON()["keys"] != "abc" {
		t.Errorf("unexpected keys body %s", req.Body)
	}
}

func TestTerminateReleasesRegistry(t *testing.T) {
	s := startBridge(t)
	s.JSON("POST", "/session/session-1/close", map[string]interface{}{"error": "Session not found"})
	d := launch(t, s)
	ctx := context.Background()

	h, _ := d.FindElement(ctx, core.Selector{Text: "OK"})
	if err := d.Terminate(ctx); err == nil {
		t.Error("Expected close error to be returned")
	}
	if d.IsRunning() {
		t.Error("session should be cleared")
	}
	if err := d.Tap(ctx, h); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Expected not connected, got %v", err)
	}
}
