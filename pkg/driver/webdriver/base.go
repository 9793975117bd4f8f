// Package webdriver implements core.Driver over W3C WebDriver-style bridges.
// Platform packages supply a Dialect for selector translation, session
// capabilities and any native gesture endpoints.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// Dialect is the per-platform part of a W3C driver.
type Dialect interface {
	Platform() core.Platform
	// Locate translates a selector into a (using, value) pair, or fails
	// with core.ErrInvalidSelector.
	Locate(sel core.Selector) (core.Locator, error)
	// Capabilities builds the alwaysMatch capabilities for POST /session.
	Capabilities(cfg core.LaunchConfig) map[string]interface{}
	// PointerType is the W3C pointer type used for synthesised gestures.
	PointerType() string
}

// Optional native gesture endpoints. When a Dialect implements one of these
// it replaces the W3C pointer-action fallback for that gesture.
type (
	DoubleTapper interface {
		DoubleTap(ctx context.Context, b *Base, elementID string) error
	}
	LongPresser interface {
		LongPress(ctx context.Context, b *Base, elementID string, d time.Duration) error
	}
	Swiper interface {
		Swipe(ctx context.Context, b *Base, elementID string, dir core.Direction) error
	}
	Scroller interface {
		Scroll(ctx context.Context, b *Base, elementID string, dir core.Direction, amount float64) error
	}
)

// Base is a core.Driver speaking the W3C session/element protocol. A Base
// and its session belong to one goroutine at a time.
type Base struct {
	cfg     core.DriverConfig
	client  *bridge.Client
	dialect Dialect
	log     logrus.FieldLogger

	session *bridge.Session
	launch  core.LaunchConfig
}

// New creates a driver for the bridge described by cfg.
func New(cfg core.DriverConfig, d Dialect, opts ...bridge.Option) *Base {
	log := logger.Component("driver").WithField("platform", string(d.Platform()))
	opts = append([]bridge.Option{bridge.WithLogger(log)}, opts...)
	return &Base{
		cfg:     cfg,
		client:  bridge.NewClient(cfg, opts...),
		dialect: d,
		log:     log,
	}
}

// NewURL creates a driver for a bridge base URL.
func NewURL(baseURL string, d Dialect, opts ...bridge.Option) *Base {
	b := New(core.DriverConfig{}, d, opts...)
	b.client = bridge.NewClientURL(baseURL, append([]bridge.Option{bridge.WithLogger(b.log)}, opts...)...)
	return b
}

// Client returns the bridge transport.
func (b *Base) Client() *bridge.Client { return b.client }

// Log returns the driver's logger.
func (b *Base) Log() logrus.FieldLogger { return b.log }

// Active returns the current session or core.ErrNotConnected.
func (b *Base) Active() (*bridge.Session, error) {
	if b.session == nil {
		return nil, core.ErrNotConnected
	}
	return b.session, nil
}

// ElementID resolves a handle against the active session.
func (b *Base) ElementID(h core.ElementHandle) (string, error) {
	s, err := b.Active()
	if err != nil {
		return "", err
	}
	return s.Resolve(h)
}

// Post sends a session-scoped POST, e.g. Post(ctx, "/wda/shake", nil).
func (b *Base) Post(ctx context.Context, suffix string, body interface{}) (bridge.Response, error) {
	s, err := b.Active()
	if err != nil {
		return bridge.Response{}, err
	}
	if body == nil {
		body = struct{}{}
	}
	return b.client.Post(ctx, s.Path(suffix), body)
}

// Get sends a session-scoped GET.
func (b *Base) Get(ctx context.Context, suffix string) (bridge.Response, error) {
	s, err := b.Active()
	if err != nil {
		return bridge.Response{}, err
	}
	return b.client.Get(ctx, s.Path(suffix))
}

// LaunchConfig returns the config of the current or last session.
func (b *Base) LaunchConfig() core.LaunchConfig { return b.launch }

func (b *Base) Platform() core.Platform { return b.dialect.Platform() }

// Launch opens a session. A bridge that answers without a session id, or
// with an error, fails with core.ErrLaunchFailed; an unreachable bridge
// fails with core.ErrConnectionFailed.
func (b *Base) Launch(ctx context.Context, cfg core.LaunchConfig) error {
	if b.session != nil {
		return core.ErrLaunchFailed.WithMessage("session already active")
	}

	caps := b.dialect.Capabilities(cfg)
	for k, v := range cfg.Capabilities {
		caps[k] = v
	}
	resp, err := b.client.Post(ctx, "/session", map[string]interface{}{
		"capabilities": map[string]interface{}{"alwaysMatch": caps},
	})
	if err != nil {
		if errors.Is(err, core.ErrConnectionFailed) || errors.Is(err, core.ErrTimeout) {
			return err
		}
		return core.ErrLaunchFailed.WithCause(err)
	}

	id := resp.SessionID()
	if id == "" {
		return core.ErrLaunchFailed.WithMessage("no session ID in response")
	}
	b.session = bridge.NewSession(id, b.cfg.Host, b.cfg.Port)
	b.launch = cfg
	b.log.WithField("session", id).Info("session started")
	return nil
}

// Terminate deletes the remote session. The registry is released and the
// transport closed even when the delete fails; the delete error is still
// returned.
func (b *Base) Terminate(ctx context.Context) error {
	s := b.session
	if s == nil {
		return nil
	}
	_, err := b.client.Delete(ctx, s.Path(""))
	s.Release()
	b.session = nil
	b.client.Close()
	b.log.WithField("session", s.ID).Info("session ended")
	if err != nil {
		return fmt.Errorf("delete session %s: %w", s.ID, err)
	}
	return nil
}

// Reset ends the session and relaunches with the last launch config.
func (b *Base) Reset(ctx context.Context) error {
	if b.session == nil {
		return core.ErrNotConnected
	}
	cfg := b.launch
	if err := b.Terminate(ctx); err != nil {
		b.log.WithError(err).Warn("reset: terminate failed, relaunching anyway")
	}
	return b.Launch(ctx, cfg)
}

func (b *Base) IsRunning() bool { return b.session != nil }

func (b *Base) FindElement(ctx context.Context, sel core.Selector) (core.ElementHandle, error) {
	s, loc, err := b.locate(sel)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Post(ctx, s.Path("/element"), map[string]string{
		"using": loc.Strategy,
		"value": loc.Value,
	})
	if err != nil {
		if errors.Is(err, core.ErrElementNotFound) {
			return 0, core.ErrElementNotFound.WithMessage("no element matches " + sel.String())
		}
		return 0, err
	}
	id, ok := resp.ElementID()
	if !ok {
		return 0, core.ErrElementNotFound.WithMessage("no element matches " + sel.String())
	}
	return s.Register(id), nil
}

func (b *Base) FindElements(ctx context.Context, sel core.Selector) ([]core.ElementHandle, error) {
	s, loc, err := b.locate(sel)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Post(ctx, s.Path("/elements"), map[string]string{
		"using": loc.Strategy,
		"value": loc.Value,
	})
	if err != nil {
		if errors.Is(err, core.ErrElementNotFound) {
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

func (b *Base) locate(sel core.Selector) (*bridge.Session, core.Locator, error) {
	s, err := b.Active()
	if err != nil {
		return nil, core.Locator{}, err
	}
	loc, err := b.dialect.Locate(sel)
	if err != nil {
		return nil, core.Locator{}, err
	}
	return s, loc, nil
}

func (b *Base) Tap(ctx context.Context, h core.ElementHandle) error {
	_, err := b.elementPost(ctx, h, "/click", nil)
	return err
}

func (b *Base) DoubleTap(ctx context.Context, h core.ElementHandle) error {
	id, err := b.ElementID(h)
	if err != nil {
		return err
	}
	if g, ok := b.dialect.(DoubleTapper); ok {
		return g.DoubleTap(ctx, b, id)
	}
	r, err := b.RectOf(ctx, id)
	if err != nil {
		return err
	}
	x, y := r.Center()
	return b.PerformActions(ctx, bridge.DoubleTapActions(x, y))
}

func (b *Base) LongPress(ctx context.Context, h core.ElementHandle, d time.Duration) error {
	id, err := b.ElementID(h)
	if err != nil {
		return err
	}
	if d <= 0 {
		d = time.Second
	}
	if g, ok := b.dialect.(LongPresser); ok {
		return g.LongPress(ctx, b, id, d)
	}
	r, err := b.RectOf(ctx, id)
	if err != nil {
		return err
	}
	x, y := r.Center()
	return b.PerformActions(ctx, bridge.LongPressActions(x, y, d))
}

func (b *Base) TypeText(ctx context.Context, h core.ElementHandle, text string) error {
	_, err := b.elementPost(ctx, h, "/value", map[string]interface{}{
		"text":  text,
		"value": strings.Split(text, ""),
	})
	return err
}

func (b *Base) ClearText(ctx context.Context, h core.ElementHandle) error {
	_, err := b.elementPost(ctx, h, "/clear", nil)
	return err
}

func (b *Base) Swipe(ctx context.Context, h core.ElementHandle, dir core.Direction) error {
	id, err := b.ElementID(h)
	if err != nil {
		return err
	}
	if g, ok := b.dialect.(Swiper); ok {
		return g.Swipe(ctx, b, id, dir)
	}
	r, err := b.RectOf(ctx, id)
	if err != nil {
		return err
	}
	fx, fy, tx, ty := bridge.SwipeVector(r, dir, bridge.DefaultSwipeFraction)
	return b.PerformActions(ctx, bridge.DragActions(fx, fy, tx, ty, 300*time.Millisecond))
}

func (b *Base) Scroll(ctx context.Context, h core.ElementHandle, dir core.Direction, amount float64) error {
	id, err := b.ElementID(h)
	if err != nil {
		return err
	}
	if g, ok := b.dialect.(Scroller); ok {
		return g.Scroll(ctx, b, id, dir, amount)
	}
	r, err := b.RectOf(ctx, id)
	if err != nil {
		return err
	}
	fx, fy, tx, ty := bridge.ScrollVector(r, dir, amount)
	return b.PerformActions(ctx, bridge.DragActions(fx, fy, tx, ty, 500*time.Millisecond))
}

// PerformActions posts a W3C pointer sequence to /session/{id}/actions.
func (b *Base) PerformActions(ctx context.Context, actions []bridge.PointerAction) error {
	_, err := b.Post(ctx, "/actions", bridge.ActionsRequest(b.dialect.PointerType(), actions))
	return err
}

// Exists reports whether the remote element is still attached. A handle
// unknown to the session fails with core.ErrElementNotFound.
func (b *Base) Exists(ctx context.Context, h core.ElementHandle) (bool, error) {
	_, err := b.elementGet(ctx, h, "/displayed")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrElementNotFound) {
		if _, rerr := b.ElementID(h); rerr != nil {
			return false, rerr
		}
		return false, nil
	}
	return false, err
}

func (b *Base) IsVisible(ctx context.Context, h core.ElementHandle) (bool, error) {
	resp, err := b.elementGet(ctx, h, "/displayed")
	if err != nil {
		return false, err
	}
	return resp.Bool(), nil
}

func (b *Base) IsEnabled(ctx context.Context, h core.ElementHandle) (bool, error) {
	resp, err := b.elementGet(ctx, h, "/enabled")
	if err != nil {
		return false, err
	}
	return resp.Bool(), nil
}

func (b *Base) GetText(ctx context.Context, h core.ElementHandle) (string, error) {
	resp, err := b.elementGet(ctx, h, "/text")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (b *Base) GetAttribute(ctx context.Context, h core.ElementHandle, name string) (string, error) {
	resp, err := b.elementGet(ctx, h, "/attribute/"+url.PathEscape(name))
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (b *Base) GetRect(ctx context.Context, h core.ElementHandle) (core.Rect, error) {
	id, err := b.ElementID(h)
	if err != nil {
		return core.Rect{}, err
	}
	return b.RectOf(ctx, id)
}

// RectOf fetches the rect of a native element id.
func (b *Base) RectOf(ctx context.Context, elementID string) (core.Rect, error) {
	resp, err := b.Get(ctx, ElementPath(elementID, "/rect"))
	if err != nil {
		return core.Rect{}, err
	}
	r, ok := resp.Rect()
	if !ok {
		return core.Rect{}, core.ErrActionFailed.WithMessage("invalid rect response")
	}
	return r, nil
}

func (b *Base) TakeScreenshot(ctx context.Context) (*core.Screenshot, error) {
	resp, err := b.Get(ctx, "/screenshot")
	if err != nil {
		return nil, err
	}
	return bridge.ScreenshotFrom(resp)
}

func (b *Base) TakeElementScreenshot(ctx context.Context, h core.ElementHandle) (*core.Screenshot, error) {
	resp, err := b.elementGet(ctx, h, "/screenshot")
	if err != nil {
		return nil, err
	}
	return bridge.ScreenshotFrom(resp)
}

// ElementPath builds the session-relative path of an element endpoint. Bridge
// element ids are opaque and may contain reserved characters.
func ElementPath(id, suffix string) string {
	return "/element/" + url.PathEscape(id) + suffix
}

func (b *Base) elementPost(ctx context.Context, h core.ElementHandle, suffix string, body interface{}) (bridge.Response, error) {
	id, err := b.ElementID(h)
	if err != nil {
		return bridge.Response{}, err
	}
	return b.Post(ctx, ElementPath(id, suffix), body)
}

func (b *Base) elementGet(ctx context.Context, h core.ElementHandle, suffix string) (bridge.Response, error) {
	id, err := b.ElementID(h)
	if err != nil {
		return bridge.Response{}, err
	}
	return b.Get(ctx, ElementPath(id, suffix))
}
