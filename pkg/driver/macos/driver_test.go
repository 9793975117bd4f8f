package macos

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
		{core.Selector{TestID: "save"}, StrategyIdentifier, "save"},
		{core.Selector{AccessibilityID: "save"}, StrategyIdentifier, "save"},
		{core.Selector{Text: "Save"}, StrategyTitle, "Save"},
		{core.Selector{TextContains: "Sav"}, StrategyXPath, `//*[contains(@title,"Sav")]`},
		{core.Selector{TextContains: `a "b"`}, StrategyXPath, `//*[contains(@title,'a "b"')]`},
		{core.Selector{XPath: "//AXButton"}, StrategyXPath, "//AXButton"},
		{core.Selector{Role: "AXButton"}, StrategyRole, "AXButton"},
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
	for _, sel := range []core.Selector{{}, {CSS: "a"}, {ResourceID: "r"}, {ClassChain: "c"}, {Predicate: "p"}, {UIAutomator: "u"}, {Description: "d"}} {
		if _, err := (dialect{}).Locate(sel); !errors.Is(err, core.ErrInvalidSelector) {
			t.Errorf("Locate(%s): expected invalid selector, got %v", sel, err)
		}
	}
}

func TestWindowCommands(t *testing.T) {
	ok := map[string]interface{}{"value": nil}
	s := bridgemock.New().
		JSON("POST", "/session", map[string]interface{}{"value": map[string]interface{}{"sessionId": "m1"}}).
		JSON("GET", "/session/m1/windows", map[string]interface{}{"value": []interface{}{
			map[string]interface{}{"id": "w-1", "title": "Untitled", "x": 10, "y": 20, "width": 800.5, "height": 600},
		}}).
		JSON("POST", "/session/m1/window/w-1/activate", ok).
		JSON("POST", "/session/m1/keys", ok).
		JSON("POST", "/session/m1/type", ok)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	d := New(s.DriverConfig())
	ctx := context.Background()
	if err := d.Launch(ctx, core.LaunchConfig{AppID: "com.apple.TextEdit"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	req, _ := s.Last("POST", "/session")
	caps := req.JSON()["capabilities"].(map[string]interface{})["alwaysMatch"].(map[string]interface{})
	if caps["platformName"] != "macOS" || caps["bundleId"] != "com.apple.TextEdit" {
		t.Errorf("unexpected caps %v", caps)
	}

	windows, err := d.Windows(ctx)
	if err != nil || len(windows) != 1 {
		t.Fatalf("Windows() = %v, %v", windows, err)
	}
	if w := windows[0]; w.ID != "w-1" || w.Title != "Untitled" || w.Rect.Width != 800.5 {
		t.Errorf("unexpected window %+v", w)
	}
	if err := d.ActivateWindow(ctx, "w-1"); err != nil {
		t.Errorf("ActivateWindow failed: %v", err)
	}

	if err := d.PressKey(ctx, "s", ModifierCommand); err != nil {
		t.Errorf("PressKey failed: %v", err)
	}
	req, _ = s.Last("POST", "/session/m1/keys")
	mods := req.JSON()["modifiers"].([]interface{})
	if req.JSON()["key"] != "s" || len(mods) != 1 || mods[0] != "command" {
		t.Errorf("unexpected keys body %s", req.Body)
	}
	if err := d.Type(ctx, "hello"); err != nil {
		t.Errorf("Type failed: %v", err)
	}
}
