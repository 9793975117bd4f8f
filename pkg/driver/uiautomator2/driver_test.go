package uiautomator2

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
		value    string
	}{
		{core.Selector{TestID: "login"}, StrategyAccessibilityID, "login"},
		{core.Selector{AccessibilityID: "Close"}, StrategyAccessibilityID, "Close"},
		{core.Selector{ResourceID: "com.app:id/btn"}, StrategyUIAutomator, `new UiSelector().resourceId("com.app:id/btn")`},
		{core.Selector{Text: "OK"}, StrategyUIAutomator, `new UiSelector().text("OK")`},
		{core.Selector{TextContains: "Wel"}, StrategyUIAutomator, `new UiSelector().textContains("Wel")`},
		{core.Selector{XPath: "//android.widget.Button"}, StrategyXPath, "//android.widget.Button"},
		{core.Selector{UIAutomator: "new UiSelector().index(2)"}, StrategyUIAutomator, "new UiSelector().index(2)"},
	}
	for _, tt := range tests {
		loc, err := dialect{}.Locate(tt.sel)
		if err != nil {
			t.Errorf("Locate(%s) failed: %v", tt.sel, err)
			continue
		}
		if loc.Strategy != tt.strategy || loc.Value != tt.value {
			t.Errorf("Locate(%s) = %+v, want %s %q", tt.sel, loc, tt.strategy, tt.value)
		}
	}
}

func TestLocateUnsupported(t *testing.T) {
	for _, sel := range []core.Selector{{}, {CSS: "a"}, {ClassChain: "**"}, {Predicate: "x"}, {Role: "button"}, {Description: "d"}} {
		if _, err := (dialect{}).Locate(sel); !errors.Is(err, core.ErrInvalidSelector) {
			t.Errorf("Locate(%s): expected invalid selector, got %v", sel, err)
		}
	}
}

func TestCapabilities(t *testing.T) {
	caps := dialect{}.Capabilities(core.LaunchConfig{AppID: "com.example", Activity: ".Main"})
	if caps["platformName"] != "Android" || caps["appium:automationName"] != "UiAutomator2" {
		t.Errorf("unexpected caps %v", caps)
	}
	if caps["appium:appPackage"] != "com.example" || caps["appium:appActivity"] != ".Main" {
		t.Errorf("unexpected app caps %v", caps)
	}
}

func startUIA2(t *testing.T) (*bridgemock.Server, *Driver) {
	t.Helper()
	ok := map[string]interface{}{"value": nil}
	clip := base64.StdEncoding.EncodeToString([]byte("copied"))
	s := bridgemock.New().
		JSON("POST", "/session", map[string]interface{}{"value": map[string]interface{}{"sessionId": "a1"}}).
		JSON("POST", "/session/a1/element", map[string]interface{}{"value": map[string]interface{}{"ELEMENT": "el-7"}}).
		JSON("POST", "/session/a1/appium/gestures/double_click", ok).
		JSON("POST", "/session/a1/appium/gestures/long_click", ok).
		JSON("POST", "/session/a1/appium/gestures/swipe", ok).
		JSON("POST", "/session/a1/appium/gestures/scroll", ok).
		JSON("POST", "/session/a1/back", ok).
		JSON("POST", "/session/a1/appium/device/press_keycode", ok).
		JSON("POST", "/session/a1/appium/device/open_notifications", ok).
		JSON("POST", "/session/a1/appium/device/get_clipboard", map[string]interface{}{"value": clip}).
		JSON("GET", "/session/a1/appium/device/info", map[string]interface{}{"value": map[string]interface{}{
			"model": "Pixel 8", "apiVersion": "34", "displayDensity": 420,
		}})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	d := New(s.DriverConfig())
	if err := d.Launch(context.Background(), core.LaunchConfig{AppID: "com.example"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return s, d
}

func TestNativeGestures(t *testing.T) {
	s, d := startUIA2(t)
	ctx := context.Background()

	h, err := d.FindElement(ctx, core.Selector{ResourceID: "com.example:id/list"})
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	if err := d.DoubleTap(ctx, h); err != nil {
		t.Errorf("DoubleTap failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/a1/appium/gestures/double_click")
	o := req.JSON()["origin"].(map[string]interface{})
	if o["ELEMENT"] != "el-7" || o["element-6066-11e4-a52e-4f735466cecf"] != "el-7" {
		t.Errorf("unexpected origin %v", o)
	}

	if err := d.LongPress(ctx, h, 800*time.Millisecond); err != nil {
		t.Errorf("LongPress failed: %v", err)
	}
	req, _ = s.Last("POST", "/session/a1/appium/gestures/long_click")
	if req.JSON()["duration"] != float64(800) {
		t.Errorf("Expected 800ms, got %v", req.JSON()["duration"])
	}

	if err := d.Scroll(ctx, h, core.DirectionDown, 0.25); err != nil {
		t.Errorf("Scroll failed: %v", err)
	}
	req, _ = s.Last("POST", "/session/a1/appium/gestures/scroll")
	if body := req.JSON(); body["direction"] != "down" || body["percent"] != 0.25 {
		t.Errorf("unexpected scroll body %v", body)
	}
	if err := d.Swipe(ctx, h, core.DirectionLeft); err != nil {
		t.Errorf("Swipe failed: %v", err)
	}
}

func TestDeviceCommands(t *testing.T) {
	s, d := startUIA2(t)
	ctx := context.Background()

	if err := d.PressBack(ctx); err != nil {
		t.Errorf("PressBack failed: %v", err)
	}
	if err := d.PressRecentApps(ctx); err != nil {
		t.Errorf("PressRecentApps failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/a1/appium/device/press_keycode")
	if req.JSON()["keycode"] != float64(KeyCodeAppSwitch) {
		t.Errorf("unexpected keycode body %s", req.Body)
	}
	if err := d.OpenNotifications(ctx); err != nil {
		t.Errorf("OpenNotifications failed: %v", err)
	}

	text, err := d.Clipboard(ctx)
	if err != nil || text != "copied" {
		t.Errorf("Clipboard() = %q, %v", text, err)
	}
	info, err := d.DeviceInfo(ctx)
	if err != nil || info.Model != "Pixel 8" || info.DisplayDensity != 420 {
		t.Errorf("DeviceInfo() = %+v, %v", info, err)
	}
	if err := d.SetOrientation(ctx, "SIDEWAYS"); !errors.Is(err, core.ErrActionFailed) {
		t.Errorf("Expected action failed for bad orientation, got %v", err)
	}
}
