// Package uiautomator2 drives Android devices through a UIAutomator2 server.
package uiautomator2

import (
	"context"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/webdriver"
)

// Driver is an Android driver.
type Driver struct {
	*webdriver.Base
}

// New creates an Android driver for the UIAutomator2 server at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	return &Driver{Base: webdriver.New(cfg, dialect{}, opts...)}
}

type dialect struct{}

func (dialect) Platform() core.Platform { return core.PlatformAndroid }

func (dialect) PointerType() string { return bridge.PointerTouch }

// Locate maps selectors onto UiSelector expressions where the server has
// no direct strategy.
func (dialect) Locate(sel core.Selector) (core.Locator, error) {
	kind, v := sel.Primary()
	switch kind {
	case core.SelectorTestID, core.SelectorAccessibilityID:
		return core.Locator{Strategy: StrategyAccessibilityID, Value: v}, nil
	case core.SelectorResourceID:
		return uiSelector("resourceId", v), nil
	case core.SelectorText:
		return uiSelector("text", v), nil
	case core.SelectorTextContains:
		return uiSelector("textContains", v), nil
	case core.SelectorXPath:
		return core.Locator{Strategy: StrategyXPath, Value: v}, nil
	case core.SelectorUIAutomator:
		return core.Locator{Strategy: StrategyUIAutomator, Value: v}, nil
	}
	return core.Locator{}, core.UnsupportedSelector(core.PlatformAndroid, sel)
}

func uiSelector(method, v string) core.Locator {
	return core.Locator{
		Strategy: StrategyUIAutomator,
		Value:    "new UiSelector()." + method + "(" + core.QuoteString(v) + ")",
	}
}

// Capabilities builds UIAutomator2 session capabilities.
func (dialect) Capabilities(cfg core.LaunchConfig) map[string]interface{} {
	automation := cfg.AutomationName
	if automation == "" {
		automation = "UiAutomator2"
	}
	caps := map[string]interface{}{
		"platformName":          "Android",
		"appium:automationName": automation,
	}
	set := func(key, v string) {
		if v != "" {
			caps["appium:"+key] = v
		}
	}
	set("appPackage", cfg.AppID)
	set("appActivity", cfg.Activity)
	set("udid", cfg.DeviceID)
	set("deviceName", cfg.DeviceName)
	set("platformVersion", cfg.PlatformVersion)
	return caps
}

// Native gestures via the Appium gesture extensions.

func (dialect) DoubleTap(ctx context.Context, b *webdriver.Base, id string) error {
	_, err := b.Post(ctx, "/appium/gestures/double_click", ClickRequest{Origin: origin(id)})
	return err
}

func (dialect) LongPress(ctx context.Context, b *webdriver.Base, id string, d time.Duration) error {
	_, err := b.Post(ctx, "/appium/gestures/long_click", LongClickRequest{
		Origin:   origin(id),
		Duration: d.Milliseconds(),
	})
	return err
}

func (dialect) Swipe(ctx context.Context, b *webdriver.Base, id string, dir core.Direction) error {
	_, err := b.Post(ctx, "/appium/gestures/swipe", SwipeRequest{
		Origin:    origin(id),
		Direction: string(dir),
		Percent:   bridge.DefaultSwipeFraction,
	})
	return err
}

// Scroll moves the content in dir by amount of the element's extent.
func (dialect) Scroll(ctx context.Context, b *webdriver.Base, id string, dir core.Direction, amount float64) error {
	if amount <= 0 || amount > 1 {
		amount = bridge.DefaultSwipeFraction
	}
	_, err := b.Post(ctx, "/appium/gestures/scroll", SwipeRequest{
		Origin:    origin(id),
		Direction: string(dir),
		Percent:   amount,
	})
	return err
}
