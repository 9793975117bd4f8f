// Package atspi drives Linux desktop apps through the AT-SPI bridge server.
// The bridge speaks its own command dialect: every call is a POST to
// /session/{id}/{command} and failures come back as {"error": "..."}.
package atspi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// Locator strategies understood by the bridge.
const (
	StrategyName        = "name"
	StrategyRole        = "role"
	StrategyDescription = "description"
	StrategyXPath       = "xpath"
)

// AttachConfig selects an already running application. The first non-zero
// field wins.
type AttachConfig struct {
	PID        int
	AppName    string
	WindowName string
}

// WindowInfo describes the session's main window.
type WindowInfo struct {
	Title string
	Rect  core.Rect
}

// Driver is a Linux desktop driver.
type Driver struct {
	cfg    core.DriverConfig
	client *bridge.Client
	log    logrus.FieldLogger

	session  *bridge.Session
	pid      int
	launch   core.LaunchConfig
	attached *AttachConfig
}

// New creates a driver for the AT-SPI bridge at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	log := logger.Component("driver").WithField("platform", string(core.PlatformLinux))
	opts = append([]bridge.Option{bridge.WithLogger(log)}, opts...)
	return &Driver{
		cfg:    cfg,
		client: bridge.NewClient(cfg, opts...),
		log:    log,
	}
}

func (d *Driver) Platform() core.Platform { return core.PlatformLinux }

func (d *Driver) IsRunning() bool { return d.session != nil }

// PID returns the process id reported by the bridge, or 0.
func (d *Driver) PID() int { return d.pid }

// Launch starts cfg.Executable or cfg.DesktopFile under AT-SPI.
func (d *Driver) Launch(ctx context.Context, cfg core.LaunchConfig) error {
	if cfg.Executable == "" && cfg.DesktopFile == "" {
		return core.ErrLaunchFailed.WithMessage("missing executable or desktop file")
	}
	body := map[string]interface{}{}
	if cfg.Executable != "" {
		body["executable"] = cfg.Executable
		body["args"] = append([]string{}, cfg.Args...)
	}
	if cfg.DesktopFile != "" {
		body["desktopFile"] = cfg.DesktopFile
	}
	if cfg.WorkingDir != "" {
		body["workingDir"] = cfg.WorkingDir
	}
	if err := d.open(ctx, "/session/new/launch", body); err != nil {
		return err
	}
	d.launch = cfg
	d.attached = nil
	return nil
}

// Attach opens a session on a running application.
func (d *Driver) Attach(ctx context.Context, cfg AttachConfig) error {
	body := map[string]interface{}{}
	switch {
	case cfg.PID > 0:
		body["pid"] = cfg.PID
	case cfg.AppName != "":
		body["appName"] = cfg.AppName
	case cfg.WindowName != "":
		body["windowName"] = cfg.WindowName
	default:
		return core.ErrLaunchFailed.WithMessage("attach needs a pid, app name or window name")
	}
	if cfg.WindowName != "" {
		body["windowName"] = cfg.WindowName
	}
	if err := d.open(ctx, "/session/new/attach", body); err != nil {
		return err
	}
	d.attached = &cfg
	return nil
}

func (d *Driver) open(ctx context.Context, path string, body map[string]interface{}) error {
	if d.session != nil {
		return core.ErrLaunchFailed.WithMessage("session already active")
	}
	resp, err := d.client.Post(ctx, path, body)
	if err != nil {
		if core.KindOf(err) == core.KindConnectionFailed || core.KindOf(err) == core.KindTimeout {
			return err
		}
		return core.ErrLaunchFailed.WithCause(err)
	}
	id := resp.SessionID()
	if id == "" {
		return core.ErrLaunchFailed.WithMessage("no session ID in response")
	}
	d.session = bridge.NewSession(id, d.cfg.Host, d.cfg.Port)
	d.pid = int(resp.Get("pid").Int())
	d.log.WithFields(logrus.Fields{"session": id, "pid": d.pid}).Info("session started")
	return nil
}

// Terminate closes the session; the bridge stops processes it launched.
// The registry is released even when close fails.
func (d *Driver) Terminate(ctx context.Context) error {
	s := d.session
	if s == nil {
		return nil
	}
	_, err := d.client.Post(ctx, s.Path("/close"), struct{}{})
	s.Release()
	d.session = nil
	d.pid = 0
	d.client.Close()
	d.log.WithField("session", s.ID).Info("session ended")
	return err
}

// Reset closes the session and reopens it the way it was opened.
func (d *Driver) Reset(ctx context.Context) error {
	if d.session == nil {
		return core.ErrNotConnected
	}
	attached, launch := d.attached, d.launch
	if err := d.Terminate(ctx); err != nil {
		d.log.WithError(err).Warn("reset: close failed, reopening anyway")
	}
	if attached != nil {
		return d.Attach(ctx, *attached)
	}
	return d.Launch(ctx, launch)
}

// Locate translates a selector into the bridge's strategies.
func Locate(sel core.Selector) (core.Locator, error) {
	kind, v := sel.Primary()
	switch kind {
	case core.SelectorTestID, core.SelectorAccessibilityID, core.SelectorText, core.SelectorTextContains:
		return core.Locator{Strategy: StrategyName, Value: v}, nil
	case core.SelectorXPath:
		return core.Locator{Strategy: StrategyXPath, Value: v}, nil
	case core.SelectorRole:
		return core.Locator{Strategy: StrategyRole, Value: v}, nil
	case core.SelectorDescription:
		return core.Locator{Strategy: StrategyDescription, Value: v}, nil
	}
	return core.Locator{}, core.UnsupportedSelector(core.PlatformLinux, sel)
}

func (d *Driver) FindElement(ctx context.Context, sel core.Selector) (core.ElementHandle, error) {
	s, resp, err := d.find(ctx, "findElement", sel)
	if err != nil {
		return 0, err
	}
	id, ok := resp.ElementID()
	if !ok {
		return 0, core.ErrElementNotFound.WithMessage("no element matches " + sel.String())
	}
	return s.Register(id), nil
}

func (d *Driver) FindElements(ctx context.Context, sel core.Selector) ([]core.ElementHandle, error) {
	s, resp, err := d.find(ctx, "findElements", sel)
	if err != nil {
		if core.KindOf(err) == core.KindElementNotFound {
			return []core.ElementHandle{}, nil
		}
		return nil, err
	}
	ids := resp.ElementIDs()
	handles := make([]core.ElementHandle, 0, len(ids))
	for _, id := range ids {
		handles = append(handles, s.Register(id))
	}
	return handles, nil
}

func (d *Driver) find(ctx context.Context, command string, sel core.Selector) (*bridge.Session, bridge.Response, error) {
	s, err := d.active()
	if err != nil {
		return nil, bridge.Response{}, err
	}
	loc, err := Locate(sel)
	if err != nil {
		return nil, bridge.Response{}, err
	}
	resp, err := d.client.Post(ctx, s.Path("/"+command), map[string]string{
		"strategy": loc.Strategy,
		"value":    loc.Value,
	})
	return s, resp, err
}

func (d *Driver) Tap(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "click", h, nil)
	return err
}

func (d *Driver) DoubleTap(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "doubleClick", h, nil)
	return err
}

// LongPress, Swipe and Scroll are forwarded as commands; bridges without
// them answer with an error that surfaces as ActionFailed.
func (d *Driver) LongPress(ctx context.Context, h core.ElementHandle, dur time.Duration) error {
	_, err := d.element(ctx, "longPress", h, map[string]interface{}{"duration": dur.Milliseconds()})
	return err
}

func (d *Driver) Swipe(ctx context.Context, h core.ElementHandle, dir core.Direction) error {
	_, err := d.element(ctx, "swipe", h, map[string]interface{}{"direction": string(dir)})
	return err
}

func (d *Driver) Scroll(ctx context.Context, h core.ElementHandle, dir core.Direction, amount float64) error {
	if amount <= 0 || amount > 1 {
		amount = bridge.DefaultSwipeFraction
	}
	_, err := d.element(ctx, "scroll", h, map[string]interface{}{"direction": string(dir), "amount": amount})
	return err
}

func (d *Driver) TypeText(ctx context.Context, h core.ElementHandle, text string) error {
	_, err := d.element(ctx, "type", h, map[string]interface{}{"text": text})
	return err
}

func (d *Driver) ClearText(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "clear", h, nil)
	return err
}

// Exists asks the bridge for the element's bounds; an element the bridge
// no longer knows is reported as absent.
func (d *Driver) Exists(ctx context.Context, h core.ElementHandle) (bool, error) {
	_, err := d.element(ctx, "getBounds", h, nil)
	if err == nil {
		return true, nil
	}
	if core.KindOf(err) == core.KindElementNotFound {
		if _, rerr := d.resolve(h); rerr != nil {
			return false, rerr
		}
		return false, nil
	}
	return false, err
}

func (d *Driver) IsVisible(ctx context.Context, h core.ElementHandle) (bool, error) {
	resp, err := d.element(ctx, "isVisible", h, nil)
	if err != nil {
		return false, err
	}
	return resp.Bool(), nil
}

func (d *Driver) IsEnabled(ctx context.Context, h core.ElementHandle) (bool, error) {
	resp, err := d.element(ctx, "isEnabled", h, nil)
	if err != nil {
		return false, err
	}
	return resp.Bool(), nil
}

func (d *Driver) GetText(ctx context.Context, h core.ElementHandle) (string, error) {
	resp, err := d.element(ctx, "getText", h, nil)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (d *Driver) GetAttribute(ctx context.Context, h core.ElementHandle, name string) (string, error) {
	resp, err := d.element(ctx, "getAttribute", h, map[string]interface{}{"name": name})
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (d *Driver) GetRect(ctx context.Context, h core.ElementHandle) (core.Rect, error) {
	resp, err := d.element(ctx, "getBounds", h, nil)
	if err != nil {
		return core.Rect{}, err
	}
	r, ok := resp.Rect()
	if !ok {
		return core.Rect{}, core.ErrActionFailed.WithMessage("invalid bounds response")
	}
	return r, nil
}

func (d *Driver) TakeScreenshot(ctx context.Context) (*core.Screenshot, error) {
	resp, err := d.command(ctx, "screenshot", nil)
	if err != nil {
		return nil, err
	}
	return bridge.ScreenshotFrom(resp)
}

func (d *Driver) TakeElementScreenshot(ctx context.Context, h core.ElementHandle) (*core.Screenshot, error) {
	resp, err := d.element(ctx, "elementScreenshot", h, nil)
	if err != nil {
		return nil, err
	}
	return bridge.ScreenshotFrom(resp)
}

// Focus gives keyboard focus to an element.
func (d *Driver) Focus(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "focus", h, nil)
	return err
}

// WindowInfo returns the title and bounds of the session's window.
func (d *Driver) WindowInfo(ctx context.Context) (WindowInfo, error) {
	resp, err := d.command(ctx, "window", nil)
	if err != nil {
		return WindowInfo{}, err
	}
	info := WindowInfo{Title: resp.Get("title").String()}
	if r, ok := resp.Rect(); ok {
		info.Rect = r
	}
	return info, nil
}

// SendKeys types text into whatever has focus.
func (d *Driver) SendKeys(ctx context.Context, text string) error {
	_, err := d.command(ctx, "keys", map[string]interface{}{"keys": text})
	return err
}

func (d *Driver) active() (*bridge.Session, error) {
	if d.session == nil {
		return nil, core.ErrNotConnected
	}
	return d.session, nil
}

func (d *Driver) resolve(h core.ElementHandle) (string, error) {
	s, err := d.active()
	if err != nil {
		return "", err
	}
	return s.Resolve(h)
}

func (d *Driver) command(ctx context.Context, name string, body map[string]interface{}) (bridge.Response, error) {
	s, err := d.active()
	if err != nil {
		return bridge.Response{}, err
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return d.client.Post(ctx, s.Path("/"+name), body)
}

func (d *Driver) element(ctx context.Context, name string, h core.ElementHandle, body map[string]interface{}) (bridge.Response, error) {
	id, err := d.resolve(h)
	if err != nil {
		return bridge.Response{}, err
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	body["elementId"] = id
	return d.command(ctx, name, body)
}
