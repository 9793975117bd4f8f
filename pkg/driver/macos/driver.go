// Package macos drives macOS apps through an Accessibility bridge server.
package macos

import (
	"context"
	"net/url"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/webdriver"
)

// Locator strategies understood by the Accessibility bridge.
const (
	StrategyIdentifier = "identifier"
	StrategyTitle      = "title"
	StrategyRole       = "role"
	StrategyXPath      = "xpath"
)

// Key modifiers accepted by PressKey.
const (
	ModifierCommand = "command"
	ModifierControl = "control"
	ModifierOption  = "option"
	ModifierShift   = "shift"
	ModifierFn      = "fn"
)

// Driver is a macOS driver.
type Driver struct {
	*webdriver.Base
}

// New creates a macOS driver for the bridge at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	return &Driver{Base: webdriver.New(cfg, dialect{}, opts...)}
}

type dialect struct{}

func (dialect) Platform() core.Platform { return core.PlatformMacOS }

func (dialect) PointerType() string { return bridge.PointerMouse }

func (dialect) Locate(sel core.Selector) (core.Locator, error) {
	kind, v := sel.Primary()
	switch kind {
	case core.SelectorTestID, core.SelectorAccessibilityID:
		return core.Locator{Strategy: StrategyIdentifier, Value: v}, nil
	case core.SelectorText:
		return core.Locator{Strategy: StrategyTitle, Value: v}, nil
	case core.SelectorTextContains:
		return core.Locator{Strategy: StrategyXPath, Value: "//*[contains(@title," + core.XPathLiteral(v) + ")]"}, nil
	case core.SelectorXPath:
		return core.Locator{Strategy: StrategyXPath, Value: v}, nil
	case core.SelectorRole:
		return core.Locator{Strategy: StrategyRole, Value: v}, nil
	}
	return core.Locator{}, core.UnsupportedSelector(core.PlatformMacOS, sel)
}

func (dialect) Capabilities(cfg core.LaunchConfig) map[string]interface{} {
	caps := map[string]interface{}{"platformName": "macOS"}
	if cfg.AppID != "" {
		caps["bundleId"] = cfg.AppID
	}
	return caps
}

// Window is a top-level window of the application under test.
type Window struct {
	ID    string
	Title string
	Rect  core.Rect
}

// Windows lists the application's windows.
func (d *Driver) Windows(ctx context.Context) ([]Window, error) {
	resp, err := d.Get(ctx, "/windows")
	if err != nil {
		return nil, err
	}
	items := resp.Value().Array()
	windows := make([]Window, 0, len(items))
	for _, w := range items {
		windows = append(windows, Window{
			ID:    w.Get("id").String(),
			Title: w.Get("title").String(),
			Rect: core.Rect{
				X:      w.Get("x").Float(),
				Y:      w.Get("y").Float(),
				Width:  w.Get("width").Float(),
				Height: w.Get("height").Float(),
			},
		})
	}
	return windows, nil
}

// ActivateWindow brings a window to the front.
func (d *Driver) ActivateWindow(ctx context.Context, id string) error {
	_, err := d.Post(ctx, "/window/"+url.PathEscape(id)+"/activate", nil)
	return err
}

// PressKey presses key with optional modifiers (command, control, option,
// shift, fn).
func (d *Driver) PressKey(ctx context.Context, key string, modifiers ...string) error {
	if modifiers == nil {
		modifiers = []string{}
	}
	_, err := d.Post(ctx, "/keys", map[string]interface{}{
		"key":       key,
		"modifiers": modifiers,
	})
	return err
}

// Type types text into the focused element.
func (d *Driver) Type(ctx context.Context, text string) error {
	_, err := d.Post(ctx, "/type", map[string]string{"text": text})
	return err
}
