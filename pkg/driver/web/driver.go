// Package web drives browsers through a Playwright-backed WebDriver bridge.
package web

import (
	"context"
	"strings"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/webdriver"
)

// Driver is a browser driver. Element operations come from webdriver.Base.
type Driver struct {
	*webdriver.Base
}

// New creates a web driver for the bridge at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	return &Driver{Base: webdriver.New(cfg, dialect{}, opts...)}
}

// Launch opens a browser session and navigates to cfg.URL when set.
func (d *Driver) Launch(ctx context.Context, cfg core.LaunchConfig) error {
	if err := d.Base.Launch(ctx, cfg); err != nil {
		return err
	}
	if cfg.URL != "" {
		return d.Navigate(ctx, cfg.URL)
	}
	return nil
}

// Reset relaunches the browser. The base relaunch does not navigate, so the
// start URL is reloaded here.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.Base.Reset(ctx); err != nil {
		return err
	}
	if url := d.LaunchConfig().URL; url != "" {
		return d.Navigate(ctx, url)
	}
	return nil
}

type dialect struct{}

func (dialect) Platform() core.Platform { return core.PlatformWeb }

func (dialect) PointerType() string { return bridge.PointerMouse }

// Locate maps selectors onto CSS and Playwright text engines.
func (dialect) Locate(sel core.Selector) (core.Locator, error) {
	kind, v := sel.Primary()
	switch kind {
	case core.SelectorTestID:
		return css("[data-testid=" + core.QuoteString(v) + "]"), nil
	case core.SelectorAccessibilityID:
		return css("[aria-label=" + core.QuoteString(v) + "]"), nil
	case core.SelectorText:
		return css(":text(" + core.QuoteString(v) + ")"), nil
	case core.SelectorTextContains:
		return css(":has-text(" + core.QuoteString(v) + ")"), nil
	case core.SelectorXPath:
		return core.Locator{Strategy: "xpath", Value: v}, nil
	case core.SelectorCSS:
		return css(v), nil
	}
	return core.Locator{}, core.UnsupportedSelector(core.PlatformWeb, sel)
}

func css(v string) core.Locator {
	return core.Locator{Strategy: "css selector", Value: v}
}

// Capabilities selects the browser engine. Unknown names are passed through
// to the bridge unchanged.
func (dialect) Capabilities(cfg core.LaunchConfig) map[string]interface{} {
	browser := strings.ToLower(cfg.Browser)
	if browser == "" {
		browser = "chromium"
	}
	caps := map[string]interface{}{"browserName": browser}

	switch browser {
	case "chromium", "chrome":
		var args []string
		if cfg.Headless {
			args = append(args, "--headless=new")
		}
		caps["goog:chromeOptions"] = map[string]interface{}{"args": args}
	case "firefox":
		var args []string
		if cfg.Headless {
			args = append(args, "-headless")
		}
		caps["moz:firefoxOptions"] = map[string]interface{}{"args": args}
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		caps["zylix:viewport"] = map[string]int{
			"width":  cfg.ViewportWidth,
			"height": cfg.ViewportHeight,
		}
	}
	if cfg.Headless {
		caps["zylix:headless"] = true
	}
	return caps
}

// Scroll uses a wheel input source; a mouse drag selects text instead of
// scrolling in a browser.
func (dialect) Scroll(ctx context.Context, b *webdriver.Base, elementID string, dir core.Direction, amount float64) error {
	r, err := b.RectOf(ctx, elementID)
	if err != nil {
		return err
	}
	if amount <= 0 || amount > 1 {
		amount = bridge.DefaultSwipeFraction
	}
	x, y := r.Center()
	dx, dy := 0, 0
	switch dir {
	case core.DirectionUp:
		dy = -int(r.Height * amount)
	case core.DirectionDown:
		dy = int(r.Height * amount)
	case core.DirectionLeft:
		dx = -int(r.Width * amount)
	default:
		dx = int(r.Width * amount)
	}
	_, err = b.Post(ctx, "/actions", map[string]interface{}{
		"actions": []map[string]interface{}{{
			"type": "wheel",
			"id":   "wheel1",
			"actions": []map[string]interface{}{{
				"type":     "scroll",
				"x":        int(x),
				"y":        int(y),
				"deltaX":   dx,
				"deltaY":   dy,
				"duration": 100,
				"origin":   "viewport",
			}},
		}},
	})
	return err
}
