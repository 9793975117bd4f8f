// Package wda drives iOS devices and simulators through WebDriverAgent.
package wda

import (
	"context"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/webdriver"
)

// Locator strategies understood by WDA.
const (
	StrategyAccessibilityID = "accessibility id"
	StrategyName            = "name"
	StrategyXPath           = "xpath"
	StrategyClassChain      = "class chain"
	StrategyPredicate       = "predicate string"
)

// Driver is an iOS driver over WebDriverAgent.
type Driver struct {
	*webdriver.Base
}

// Dialect is the WDA protocol dialect. The zero value targets iOS; watchOS
// reuses it with Target set to core.PlatformWatchOS.
type Dialect struct {
	Target core.Platform
}

// New creates an iOS driver for the WDA server at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	return NewWithDialect(cfg, Dialect{}, opts...)
}

// NewWithDialect creates a WDA driver for a specific Apple platform.
func NewWithDialect(cfg core.DriverConfig, d Dialect, opts ...bridge.Option) *Driver {
	return &Driver{Base: webdriver.New(cfg, d, opts...)}
}

func (d Dialect) Platform() core.Platform {
	if d.Target == "" {
		return core.PlatformIOS
	}
	return d.Target
}

func (Dialect) PointerType() string { return bridge.PointerTouch }

// Locate maps selectors onto WDA strategies.
func (d Dialect) Locate(sel core.Selector) (core.Locator, error) {
	kind, v := sel.Primary()
	switch kind {
	case core.SelectorTestID, core.SelectorAccessibilityID:
		return core.Locator{Strategy: StrategyAccessibilityID, Value: v}, nil
	case core.SelectorText:
		return core.Locator{Strategy: StrategyName, Value: v}, nil
	case core.SelectorTextContains:
		return core.Locator{Strategy: StrategyPredicate, Value: "label CONTAINS " + core.QuoteString(v)}, nil
	case core.SelectorXPath:
		return core.Locator{Strategy: StrategyXPath, Value: v}, nil
	case core.SelectorClassChain:
		return core.Locator{Strategy: StrategyClassChain, Value: v}, nil
	case core.SelectorPredicate:
		return core.Locator{Strategy: StrategyPredicate, Value: v}, nil
	}
	return core.Locator{}, core.UnsupportedSelector(d.Platform(), sel)
}

// Capabilities builds WDA session capabilities.
func (d Dialect) Capabilities(cfg core.LaunchConfig) map[string]interface{} {
	name := "iOS"
	if d.Platform() == core.PlatformWatchOS {
		name = "watchOS"
	}
	caps := map[string]interface{}{"platformName": name}
	set := func(key, v string) {
		if v != "" {
			caps[key] = v
		}
	}
	set("bundleId", cfg.AppID)
	set("udid", cfg.DeviceID)
	set("deviceName", cfg.DeviceName)
	set("platformVersion", cfg.PlatformVersion)
	set("automationName", cfg.AutomationName)
	set("companionDeviceUdid", cfg.CompanionDeviceID)
	if len(cfg.Args) > 0 {
		caps["arguments"] = cfg.Args
	}
	return caps
}

// Native element gestures. WDA performs these on the element itself, which
// is more reliable than synthesised touch sequences on XCUITest.

func (Dialect) DoubleTap(ctx context.Context, b *webdriver.Base, id string) error {
	_, err := b.Post(ctx, "/wda"+webdriver.ElementPath(id, "/doubleTap"), nil)
	return err
}

func (Dialect) LongPress(ctx context.Context, b *webdriver.Base, id string, d time.Duration) error {
	_, err := b.Post(ctx, "/wda"+webdriver.ElementPath(id, "/touchAndHold"), map[string]interface{}{
		"duration": d.Seconds(),
	})
	return err
}

func (Dialect) Swipe(ctx context.Context, b *webdriver.Base, id string, dir core.Direction) error {
	_, err := b.Post(ctx, "/wda"+webdriver.ElementPath(id, "/swipe"), map[string]interface{}{
		"direction": string(dir),
	})
	return err
}

// Scroll moves the content in dir; WDA takes the distance as a fraction of
// the element's extent.
func (Dialect) Scroll(ctx context.Context, b *webdriver.Base, id string, dir core.Direction, amount float64) error {
	if amount <= 0 || amount > 1 {
		amount = bridge.DefaultSwipeFraction
	}
	_, err := b.Post(ctx, "/wda"+webdriver.ElementPath(id, "/scroll"), map[string]interface{}{
		"direction": string(dir),
		"distance":  amount,
	})
	return err
}
