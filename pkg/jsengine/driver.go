package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

const (
	defaultLongPress    = time.Second
	defaultScrollAmount = 0.5
)

// driverObject builds the script's driver global. Actions accept either a
// handle returned by find/findAll/waitFor or a selector object such as
// {testId: "login"}; a selector is waited for before acting.
func (e *Engine) driverObject() *goja.Object {
	obj := e.runtime.NewObject()

	obj.DefineAccessorProperty("platform", e.runtime.ToValue(func() string {
		if e.drv == nil {
			return ""
		}
		return string(e.drv.Platform())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"find": func(call goja.FunctionCall) goja.Value {
			h, err := e.driver().FindElement(e.ctx, e.selector(call.Argument(0)))
			e.check(err)
			return e.runtime.ToValue(int64(h))
		},
		"findAll": func(call goja.FunctionCall) goja.Value {
			hs, err := e.driver().FindElements(e.ctx, e.selector(call.Argument(0)))
			e.check(err)
			out := make([]interface{}, len(hs))
			for i, h := range hs {
				out[i] = int64(h)
			}
			return e.runtime.NewArray(out...)
		},
		"waitFor": func(call goja.FunctionCall) goja.Value {
			h, err := core.WaitForElement(e.ctx, e.driver(), e.selector(call.Argument(0)), e.timeoutArg(call.Argument(1)))
			e.check(err)
			return e.runtime.ToValue(int64(h))
		},
		"waitForGone": func(call goja.FunctionCall) goja.Value {
			gone, err := core.WaitForElementGone(e.ctx, e.driver(), e.selector(call.Argument(0)), e.timeoutArg(call.Argument(1)))
			e.check(err)
			return e.runtime.ToValue(gone)
		},
		"tap": func(call goja.FunctionCall) goja.Value {
			e.check(e.driver().Tap(e.ctx, e.target(call.Argument(0))))
			return goja.Undefined()
		},
		"doubleTap": func(call goja.FunctionCall) goja.Value {
			e.check(e.driver().DoubleTap(e.ctx, e.target(call.Argument(0))))
			return goja.Undefined()
		},
		"longPress": func(call goja.FunctionCall) goja.Value {
			d := defaultLongPress
			if ms := call.Argument(1); !goja.IsUndefined(ms) {
				d = time.Duration(ms.ToInteger()) * time.Millisecond
			}
			e.check(e.driver().LongPress(e.ctx, e.target(call.Argument(0)), d))
			return goja.Undefined()
		},
		"type": func(call goja.FunctionCall) goja.Value {
			e.check(e.driver().TypeText(e.ctx, e.target(call.Argument(0)), call.Argument(1).String()))
			return goja.Undefined()
		},
		"clear": func(call goja.FunctionCall) goja.Value {
			e.check(e.driver().ClearText(e.ctx, e.target(call.Argument(0))))
			return goja.Undefined()
		},
		"swipe": func(call goja.FunctionCall) goja.Value {
			h := e.target(call.Argument(0))
			e.check(e.driver().Swipe(e.ctx, h, e.direction(call.Argument(1))))
			return goja.Undefined()
		},
		"scroll": func(call goja.FunctionCall) goja.Value {
			h := e.target(call.Argument(0))
			dir := e.direction(call.Argument(1))
			amount := defaultScrollAmount
			if a := call.Argument(2); !goja.IsUndefined(a) {
				amount = a.ToFloat()
			}
			e.check(e.driver().Scroll(e.ctx, h, dir, amount))
			return goja.Undefined()
		},
		"text": func(call goja.FunctionCall) goja.Value {
			s, err := e.driver().GetText(e.ctx, e.target(call.Argument(0)))
			e.check(err)
			return e.runtime.ToValue(s)
		},
		"attribute": func(call goja.FunctionCall) goja.Value {
			s, err := e.driver().GetAttribute(e.ctx, e.target(call.Argument(0)), call.Argument(1).String())
			e.check(err)
			return e.runtime.ToValue(s)
		},
		"rect": func(call goja.FunctionCall) goja.Value {
			r, err := e.driver().GetRect(e.ctx, e.target(call.Argument(0)))
			e.check(err)
			return e.runtime.ToValue(map[string]interface{}{
				"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height,
			})
		},
		"visible": func(call goja.FunctionCall) goja.Value {
			return e.query(call.Argument(0), core.Driver.IsVisible)
		},
		"enabled": func(call goja.FunctionCall) goja.Value {
			return e.query(call.Argument(0), core.Driver.IsEnabled)
		},
		"exists": func(call goja.FunctionCall) goja.Value {
			return e.query(call.Argument(0), core.Driver.Exists)
		},
		"screenshot": func(call goja.FunctionCall) goja.Value {
			shot := e.capture(call.Argument(0))
			return e.runtime.ToValue(map[string]interface{}{
				"width":  shot.Width,
				"height": shot.Height,
			})
		},
	}
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			panic(fmt.Sprintf("jsengine: set driver.%s: %v", name, err))
		}
	}
	return obj
}

// visualObject builds the script's visual global.
func (e *Engine) visualObject() *goja.Object {
	obj := e.runtime.NewObject()

	// visual.compare(name, [target]) compares the screen, or one element,
	// with the named baseline.
	_ = obj.Set("compare", func(call goja.FunctionCall) goja.Value {
		if e.visual == nil {
			e.throw(core.ErrActionFailed.WithMessage("visual comparison is not configured"))
		}
		name := call.Argument(0).String()
		shot := e.capture(call.Argument(1))
		res, err := e.visual.Compare(name, shot)
		e.check(err)
		return e.runtime.ToValue(map[string]interface{}{
			"name":           res.Name,
			"matches":        res.Matches,
			"similarity":     res.Similarity,
			"diffPercentage": res.DiffPercentage,
			"diffPixelCount": res.DiffPixelCount,
			"diffImagePath":  res.DiffImagePath,
			"newBaseline":    res.NewBaseline,
			"algorithm":      res.Algorithm.String(),
		})
	})
	return obj
}

// driver returns the configured driver or throws NotConnected.
func (e *Engine) driver() core.Driver {
	if e.drv == nil {
		e.throw(core.ErrNotConnected.WithMessage("no driver is attached to this script"))
	}
	return e.drv
}

// check throws err into the script when it is non-nil.
func (e *Engine) check(err error) {
	if err != nil {
		e.throw(err)
	}
}

// selector converts a JS value into a core.Selector. A plain string is
// shorthand for {text: ...}.
func (e *Engine) selector(v goja.Value) core.Selector {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		e.throw(core.ErrInvalidSelector.WithMessage("selector is required"))
	}
	if s, ok := v.Export().(string); ok {
		return core.Selector{Text: s}
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		e.throw(core.ErrInvalidSelector.WithMessage("selector is not an object").WithCause(err))
	}
	var sel core.Selector
	if err := json.Unmarshal(raw, &sel); err != nil {
		e.throw(core.ErrInvalidSelector.WithMessage("malformed selector " + string(raw)).WithCause(err))
	}
	return sel
}

// handle reports whether v is an element handle.
func handle(v goja.Value) (core.ElementHandle, bool) {
	switch n := v.Export().(type) {
	case int64:
		if n > 0 {
			return core.ElementHandle(n), true
		}
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return core.ElementHandle(n), true
		}
	}
	return 0, false
}

// target resolves a handle or waits for a selector to become visible.
func (e *Engine) target(v goja.Value) core.ElementHandle {
	if h, ok := handle(v); ok {
		return h
	}
	h, err := core.WaitForElement(e.ctx, e.driver(), e.selector(v), e.waitTimeout)
	e.check(err)
	return h
}

// query answers a boolean question about a handle or a selector. For a
// selector, no match means false rather than an exception.
func (e *Engine) query(v goja.Value, ask func(d core.Driver, ctx context.Context, h core.ElementHandle) (bool, error)) goja.Value {
	drv := e.driver()
	h, ok := handle(v)
	if !ok {
		var err error
		h, err = drv.FindElement(e.ctx, e.selector(v))
		if errors.Is(err, core.ErrElementNotFound) {
			return e.runtime.ToValue(false)
		}
		e.check(err)
	}
	ok, err := ask(drv, e.ctx, h)
	if errors.Is(err, core.ErrElementNotFound) {
		return e.runtime.ToValue(false)
	}
	e.check(err)
	return e.runtime.ToValue(ok)
}

func (e *Engine) direction(v goja.Value) core.Direction {
	d, err := core.ParseDirection(v.String())
	if err != nil {
		e.throw(core.ErrActionFailed.WithMessage(err.Error()))
	}
	return d
}

func (e *Engine) timeoutArg(v goja.Value) time.Duration {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return e.waitTimeout
	}
	return time.Duration(v.ToInteger()) * time.Millisecond
}

// capture takes a full screenshot, or an element screenshot when v names
// a target.
func (e *Engine) capture(v goja.Value) *core.Screenshot {
	drv := e.driver()
	var (
		shot *core.Screenshot
		err  error
	)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		shot, err = drv.TakeScreenshot(e.ctx)
	} else {
		shot, err = drv.TakeElementScreenshot(e.ctx, e.target(v))
	}
	e.check(err)
	return shot
}
