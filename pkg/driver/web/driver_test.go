package web

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/zylix-test/pkg/bridgemock"
	"github.com/devicelab-dev/zylix-test/pkg/core"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		sel      core.Selector
		strategy string
		value    string
	}{
		{core.Selector{TestID: "login"}, "css selector", `[data-testid="login"]`},
		{core.Selector{AccessibilityID: "Close"}, "css selector", `[aria-label="Close"]`},
		{core.Selector{Text: "Sign in"}, "css selector", `:text("Sign in")`},
		{core.Selector{TextContains: "Sign"}, "css selector", `:has-text("Sign")`},
		{core.Selector{XPath: "//button"}, "xpath", "//button"},
		{core.Selector{CSS: "#main > a"}, "css selector", "#main > a"},
		{core.Selector{Text: `say "hi"`}, "css selector", `:text("say \"hi\"")`},
		{core.Selector{TestID: "wins", Text: "ignored"}, "css selector", `[data-testid="wins"]`},
	}
	for _, tt := range tests {
		loc, err := dialect{}.Locate(tt.sel)
		if err != nil {
			t.Errorf("Locate(%s) failed: %v", tt.sel, err)
			continue
		}
		if loc.Strategy != tt.strategy || loc.Value != tt.value {
			t.Errorf("Locate(%s) = %+v, want %s %s", tt.sel, loc, tt.strategy, tt.value)
		}
	}
}

func TestLocateUnsupported(t *testing.T) {
	for _, sel := range []core.Selector{
		{},
		{ResourceID: "com.app:id/x"},
		{ClassChain: "**/XCUIElementTypeButton"},
		{Predicate: "label == 'x'"},
		{UIAutomator: "new UiSelector()"},
		{Role: "button"},
		{Description: "desc"},
	} {
		if _, err := (dialect{}).Locate(sel); !errors.Is(err, core.ErrInvalidSelector) {
			t.Errorf("Locate(%s): expected invalid selector, got %v", sel, err)
		}
	}
}

func TestCapabilities(t *testing.T) {
	caps := dialect{}.Capabilities(core.LaunchConfig{Headless: true, ViewportWidth: 1280, ViewportHeight: 720})
	if caps["browserName"] != "chromium" {
		t.Errorf("Expected chromium default, got %v", caps["browserName"])
	}
	opts := caps["goog:chromeOptions"].(map[string]interface{})
	if args := opts["args"].([]string); len(args) != 1 || args[0] != "--headless=new" {
		t.Errorf("unexpected chrome args %v", args)
	}
	if vp := caps["zylix:viewport"].(map[string]int); vp["width"] != 1280 {
		t.Errorf("unexpected viewport %v", vp)
	}

	caps = dialect{}.Capabilities(core.LaunchConfig{Browser: "Firefox"})
	if caps["browserName"] != "firefox" || caps["moz:firefoxOptions"] == nil {
		t.Errorf("unexpected firefox caps %v", caps)
	}
}

func startBridge(t *testing.T) *bridgemock.Server {
	t.Helper()
	s := bridgemock.New().
		JSON("POST", "/session", map[string]interface{}{"value": map[string]interface{}{"sessionId": "w1"}}).
		JSON("POST", "/session/w1/url", map[string]interface{}{"value": nil}).
		JSON("GET", "/session/w1/url", map[string]interface{}{"value": "https://example.com/home"}).
		JSON("GET", "/session/w1/title", map[string]interface{}{"value": "Home"}).
		JSON("POST", "/session/w1/execute/sync", map[string]interface{}{"value": map[string]interface{}{"n": 2}}).
		JSON("POST", "/session/w1/back", map[string]interface{}{"value": nil}).
		JSON("POST", "/session/w1/element", map[string]interface{}{"value": map[string]interface{}{"element-6066-11e4-a52e-4f735466cecf": "node-1"}}).
		JSON("GET", "/session/w1/element/node-1/rect", map[string]interface{}{"value": map[string]interface{}{"x": 0, "y": 0, "width": 200, "height": 100}}).
		JSON("POST", "/session/w1/actions", map[string]interface{}{"value": nil})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestLaunchNavigates(t *testing.T) {
	s := startBridge(t)
	d := New(s.DriverConfig())
	ctx := context.Background()

	if err := d.Launch(ctx, core.LaunchConfig{URL: "https://example.com"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	req, ok := s.Last("POST", "/session/w1/url")
	if !ok || req.JSON()["url"] != "https://example.com" {
		t.Errorf("Expected navigation to start URL, got %s", req.Body)
	}

	url, err := d.CurrentURL(ctx)
	if err != nil || url != "https://example.com/home" {
		t.Errorf("CurrentURL() = %q, %v", url, err)
	}
	title, err := d.Title(ctx)
	if err != nil || title != "Home" {
		t.Errorf("Title() = %q, %v", title, err)
	}
	if err := d.Back(ctx); err != nil {
		t.Errorf("Back failed: %v", err)
	}

	out, err := d.ExecuteScript(ctx, "return {n: arguments[0]}", 2)
	if err != nil {
		t.Fatalf("ExecuteScript failed: %v", err)
	}
	if m, ok := out.(map[string]interface{}); !ok || m["n"] != float64(2) {
		t.Errorf("ExecuteScript() = %v", out)
	}
}

func TestScrollUsesWheel(t *testing.T) {
	s := startBridge(t)
	d := New(s.DriverConfig())
	ctx := context.Background()
	if err := d.Launch(ctx, core.LaunchConfig{}); err != nil {
		t.Fatal(err)
	}

	h, err := d.FindElement(ctx, core.Selector{CSS: ".feed"})
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	if err := d.Scroll(ctx, h, core.DirectionDown, 0.5); err != nil {
		t.Fatalf("Scroll failed: %v", err)
	}
	req, _ := s.Last("POST", "/session/w1/actions")
	seq := req.JSON()["actions"].([]interface{})[0].(map[string]interface{})
	if seq["type"] != "wheel" {
		t.Fatalf("Expected wheel source, got %v", seq["type"])
	}
	scroll := seq["actions"].([]interface{})[0].(map[string]interface{})
	if scroll["deltaY"] != float64(50) || scroll["deltaX"] != float64(0) {
		t.Errorf("unexpected wheel deltas %v", scroll)
	}
}
