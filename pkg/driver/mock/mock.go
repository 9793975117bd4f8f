// Package mock provides an in-memory driver for testing without a bridge.
package mock

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// Element is a fake UI element.
type Element struct {
	Selector   core.Selector // The selector that locates this element
	Text       string
	Visible    bool
	Enabled    bool
	Rect       core.Rect
	Attributes map[string]string
}

// Config configures mock driver behavior.
type Config struct {
	Platform core.Platform
	Elements []Element
	// ActionDelay adds artificial delay per call, honouring ctx.
	ActionDelay time.Duration
	// Errors makes the named operation fail, e.g. {"tap": core.ErrActionFailed}.
	Errors map[string]error
	// Screen is returned by TakeScreenshot. Defaults to a 4x4 white image.
	Screen image.Image
}

// Driver is a mock implementation of core.Driver.
type Driver struct {
	mu       sync.Mutex
	cfg      Config
	elements []*Element
	handles  map[core.ElementHandle]*Element
	next     core.ElementHandle
	running  bool
	launches int
	calls    []string
}

var _ core.Driver = (*Driver)(nil)

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = core.PlatformWeb
	}
	d := &Driver{cfg: cfg, handles: make(map[core.ElementHandle]*Element)}
	for i := range cfg.Elements {
		e := cfg.Elements[i]
		d.elements = append(d.elements, &e)
	}
	return d
}

// AddElement makes an element findable.
func (d *Driver) AddElement(e Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements = append(d.elements, &e)
}

// RemoveElement removes every element matching sel. Outstanding handles to
// removed elements stop resolving.
func (d *Driver) RemoveElement(sel core.Selector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.elements[:0]
	for _, e := range d.elements {
		if !matches(e, sel) {
			kept = append(kept, e)
		}
	}
	d.elements = kept
	for h, e := range d.handles {
		if matches(e, sel) {
			delete(d.handles, h)
		}
	}
}

// SetVisible toggles visibility of every element matching sel.
func (d *Driver) SetVisible(sel core.Selector, visible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.elements {
		if matches(e, sel) {
			e.Visible = visible
		}
	}
}

// Calls returns the recorded operations, e.g. "tap:testId=\"login\"".
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Launches returns how many times Launch succeeded.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *Driver) Platform() core.Platform { return d.cfg.Platform }

func (d *Driver) Launch(ctx context.Context, _ core.LaunchConfig) error {
	if err := d.begin(ctx, "launch", ""); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return core.ErrLaunchFailed.WithMessage("session already active")
	}
	d.running = true
	d.launches++
	return nil
}

func (d *Driver) Terminate(ctx context.Context) error {
	d.mu.Lock()
	d.running = false
	d.handles = make(map[core.ElementHandle]*Element)
	d.calls = append(d.calls, "terminate")
	err := d.cfg.Errors["terminate"]
	d.mu.Unlock()
	return err
}

func (d *Driver) Reset(ctx context.Context) error {
	if err := d.begin(ctx, "reset", ""); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return core.ErrNotConnected
	}
	d.handles = make(map[core.ElementHandle]*Element)
	return nil
}

func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) FindElement(ctx context.Context, sel core.Selector) (core.ElementHandle, error) {
	handles, err := d.find(ctx, "find", sel, true)
	if err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, core.ErrElementNotFound.WithMessage("no element matches " + sel.String())
	}
	return handles[0], nil
}

func (d *Driver) FindElements(ctx context.Context, sel core.Selector) ([]core.ElementHandle, error) {
	return d.find(ctx, "findAll", sel, false)
}

func (d *Driver) find(ctx context.Context, op string, sel core.Selector, first bool) ([]core.ElementHandle, error) {
	if err := d.begin(ctx, op, sel.String()); err != nil {
		return nil, err
	}
	if sel.IsEmpty() {
		return nil, core.UnsupportedSelector(d.cfg.Platform, sel)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil, core.ErrNotConnected
	}
	handles := []core.ElementHandle{}
	for _, e := range d.elements {
		if !matches(e, sel) {
			continue
		}
		d.next++
		d.handles[d.next] = e
		handles = append(handles, d.next)
		if first {
			break
		}
	}
	return handles, nil
}

func (d *Driver) Tap(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "tap", h)
	return err
}

func (d *Driver) DoubleTap(ctx context.Context, h core.ElementHandle) error {
	_, err := d.element(ctx, "doubleTap", h)
	return err
}

func (d *Driver) LongPress(ctx context.Context, h core.ElementHandle, _ time.Duration) error {
	_, err := d.element(ctx, "longPress", h)
	return err
}

func (d *Driver) TypeText(ctx context.Context, h core.ElementHandle, text string) error {
	e, err := d.element(ctx, "type", h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	e.Text += text
	d.mu.Unlock()
	return nil
}

func (d *Driver) ClearText(ctx context.Context, h core.ElementHandle) error {
	e, err := d.element(ctx, "clear", h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	e.Text = ""
	d.mu.Unlock()
	return nil
}

func (d *Driver) Swipe(ctx context.Context, h core.ElementHandle, _ core.Direction) error {
	_, err := d.element(ctx, "swipe", h)
	return err
}

func (d *Driver) Scroll(ctx context.Context, h core.ElementHandle, _ core.Direction, _ float64) error {
	_, err := d.element(ctx, "scroll", h)
	return err
}

func (d *Driver) Exists(ctx context.Context, h core.ElementHandle) (bool, error) {
	if _, err := d.element(ctx, "exists", h); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) IsVisible(ctx context.Context, h core.ElementHandle) (bool, error) {
	e, err := d.element(ctx, "visible", h)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return e.Visible, nil
}

func (d *Driver) IsEnabled(ctx context.Context, h core.ElementHandle) (bool, error) {
	e, err := d.element(ctx, "enabled", h)
	if err != nil {
		return false, err
	}
	return e.Enabled, nil
}

func (d *Driver) GetText(ctx context.Context, h core.ElementHandle) (string, error) {
	e, err := d.element(ctx, "text", h)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return e.Text, nil
}

func (d *Driver) GetAttribute(ctx context.Context, h core.ElementHandle, name string) (string, error) {
	e, err := d.element(ctx, "attribute", h)
	if err != nil {
		return "", err
	}
	return e.Attributes[name], nil
}

func (d *Driver) GetRect(ctx context.Context, h core.ElementHandle) (core.Rect, error) {
	e, err := d.element(ctx, "rect", h)
	if err != nil {
		return core.Rect{}, err
	}
	return e.Rect, nil
}

func (d *Driver) TakeScreenshot(ctx context.Context) (*core.Screenshot, error) {
	if err := d.begin(ctx, "screenshot", ""); err != nil {
		return nil, err
	}
	if !d.IsRunning() {
		return nil, core.ErrNotConnected
	}
	return core.NewScreenshot(d.screen()), nil
}

func (d *Driver) TakeElementScreenshot(ctx context.Context, h core.ElementHandle) (*core.Screenshot, error) {
	e, err := d.element(ctx, "elementScreenshot", h)
	if err != nil {
		return nil, err
	}
	r := image.Rect(int(e.Rect.X), int(e.Rect.Y), int(e.Rect.X+e.Rect.Width), int(e.Rect.Y+e.Rect.Height))
	screen := d.screen()
	if sub, ok := screen.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok && !r.Empty() {
		return core.NewScreenshot(sub.SubImage(r)), nil
	}
	return core.NewScreenshot(screen), nil
}

func (d *Driver) screen() image.Image {
	if d.cfg.Screen != nil {
		return d.cfg.Screen
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

// begin records the call, applies the configured delay and injected error.
func (d *Driver) begin(ctx context.Context, op, arg string) error {
	d.mu.Lock()
	if arg != "" {
		d.calls = append(d.calls, op+":"+arg)
	} else {
		d.calls = append(d.calls, op)
	}
	delay := d.cfg.ActionDelay
	injected := d.cfg.Errors[op]
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.ErrTimeout.WithCause(ctx.Err())
		case <-timer.C:
		}
	}
	return injected
}

// element resolves a handle for an element-scoped operation.
func (d *Driver) element(ctx context.Context, op string, h core.ElementHandle) (*Element, error) {
	if err := d.begin(ctx, op, fmt.Sprintf("%d", h)); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil, core.ErrNotConnected
	}
	e, ok := d.handles[h]
	if !ok {
		return nil, core.ErrElementNotFound.WithMessage(fmt.Sprintf("unknown handle %d", h))
	}
	return e, nil
}

func matches(e *Element, sel core.Selector) bool {
	kind, value := sel.Primary()
	if kind == core.SelectorTextContains {
		return strings.Contains(e.Text, value)
	}
	eKind, eValue := e.Selector.Primary()
	if kind == core.SelectorText && eKind != core.SelectorText {
		return e.Text == value
	}
	return kind == eKind && value == eValue
}
