// Package jsengine runs JavaScript task bodies against a driver.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

// DefaultWaitTimeout bounds the implicit wait when an action is given a
// selector instead of a handle.
const DefaultWaitTimeout = 10 * time.Second

// Engine wraps a goja runtime with the task-script globals: driver, visual,
// assert, sleep, console, env and the timer functions.
//
// A runtime is single-threaded. Run, Eval and timer callbacks serialise on
// the engine's mutex.
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	env       map[string]string
	timers    *timerRegistry
	log       logrus.FieldLogger

	drv         core.Driver
	visual      *visual.Engine
	waitTimeout time.Duration

	// ctx is the context of the Run in progress; driver calls use it.
	ctx context.Context

	// thrown is the last Go error raised into the script, kept so the
	// original error kind survives an uncaught exception.
	thrown    goja.Value
	thrownErr error

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes console.* output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDriver exposes d as the script's driver object.
func WithDriver(d core.Driver) Option {
	return func(e *Engine) { e.drv = d }
}

// WithVisual enables visual.compare.
func WithVisual(v *visual.Engine) Option {
	return func(e *Engine) { e.visual = v }
}

// WithEnv sets the script's env object.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) {
		for k, v := range env {
			e.env[k] = v
		}
	}
}

// WithWaitTimeout overrides DefaultWaitTimeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.waitTimeout = d
		}
	}
}

// timerRegistry manages setTimeout/setInterval timers
type timerRegistry struct {
	timers    map[int]*time.Timer
	tickers   map[int]*time.Ticker
	nextID    int
	mu        sync.Mutex
	stopChan  chan struct{}
	closeOnce sync.Once
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		timers:   make(map[int]*time.Timer),
		tickers:  make(map[int]*time.Ticker),
		nextID:   1,
		stopChan: make(chan struct{}),
	}
}

// New creates an engine. Without WithDriver the driver object still exists
// but every call throws NotConnected.
func New(opts ...Option) *Engine {
	e := &Engine{
		runtime:     goja.New(),
		variables:   make(map[string]interface{}),
		env:         make(map[string]string),
		timers:      newTimerRegistry(),
		log:         logger.Component("script"),
		waitTimeout: DefaultWaitTimeout,
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()
	e.setupTimers()

	e.runtime.Set("env", e.env)
	e.runtime.Set("assert", e.assertFunc)
	e.runtime.Set("sleep", e.sleepFunc)
	e.runtime.Set("driver", e.driverObject())
	e.runtime.Set("visual", e.visualObject())
}

// setupConsole routes console.log, console.error, etc. to the logger.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(logf func(args ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logf(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(e.log.Info))
	console.Set("info", makeConsoleFunc(e.log.Info))
	console.Set("debug", makeConsoleFunc(e.log.Debug))
	console.Set("warn", makeConsoleFunc(e.log.Warn))
	console.Set("error", makeConsoleFunc(e.log.Error))
	e.runtime.Set("console", console)
}

// setupTimers adds setTimeout, setInterval, clearTimeout, clearInterval.
// Callbacks run between script evaluations, never concurrently with one.
func (e *Engine) setupTimers() {
	e.runtime.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("setTimeout requires 2 arguments"))
		}
		callback, ok := goja.AssertFunction(call.Arguments[0])
		if !ok {
			panic(e.runtime.NewTypeError("first argument must be a function"))
		}
		delay := call.Arguments[1].ToInteger()

		e.timers.mu.Lock()
		id := e.timers.nextID
		e.timers.nextID++

		timer := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			if _, err := callback(goja.Undefined()); err != nil {
				e.log.WithError(err).Warn("setTimeout callback failed")
			}

			e.timers.mu.Lock()
			delete(e.timers.timers, id)
			e.timers.mu.Unlock()
		})

		e.timers.timers[id] = timer
		e.timers.mu.Unlock()

		return e.runtime.ToValue(id)
	})

	e.runtime.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}
		id := int(call.Arguments[0].ToInteger())

		e.timers.mu.Lock()
		if timer, ok := e.timers.timers[id]; ok {
			timer.Stop()
			delete(e.timers.timers, id)
		}
		e.timers.mu.Unlock()
		return goja.Undefined()
	})

	e.runtime.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("setInterval requires 2 arguments"))
		}
		callback, ok := goja.AssertFunction(call.Arguments[0])
		if !ok {
			panic(e.runtime.NewTypeError("first argument must be a function"))
		}
		interval := call.Arguments[1].ToInteger()
		if interval <= 0 {
			panic(e.runtime.NewTypeError("setInterval requires a positive interval"))
		}

		e.timers.mu.Lock()
		id := e.timers.nextID
		e.timers.nextID++
		ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
		e.timers.tickers[id] = ticker
		e.timers.mu.Unlock()

		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-e.timers.stopChan:
					return
				case <-ticker.C:
					e.timers.mu.Lock()
					_, live := e.timers.tickers[id]
					e.timers.mu.Unlock()
					if !live {
						return
					}
					e.mu.Lock()
					if _, err := callback(goja.Undefined()); err != nil {
						e.log.WithError(err).Warn("setInterval callback failed")
					}
					e.mu.Unlock()
				}
			}
		}()

		return e.runtime.ToValue(id)
	})

	e.runtime.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}
		id := int(call.Arguments[0].ToInteger())

		e.timers.mu.Lock()
		if ticker, ok := e.timers.tickers[id]; ok {
			ticker.Stop()
			delete(e.timers.tickers, id)
		}
		e.timers.mu.Unlock()
		return goja.Undefined()
	})
}

// assert(cond, [msg]) throws an ActionFailed error when cond is falsy.
func (e *Engine) assertFunc(call goja.FunctionCall) goja.Value {
	if call.Argument(0).ToBoolean() {
		return goja.Undefined()
	}
	msg := "assertion failed"
	if m := call.Argument(1); !goja.IsUndefined(m) {
		msg = "assertion failed: " + m.String()
	}
	e.throw(core.NewExecutionError(core.KindActionFailed, "assertion_failed", msg))
	return goja.Undefined()
}

// sleep(ms) blocks the script, returning early with a Timeout when the run's
// context ends.
func (e *Engine) sleepFunc(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToInteger()) * time.Millisecond
	if d <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
		e.throw(core.ErrTimeout.WithMessage("sleep interrupted").WithCause(e.ctx.Err()))
	}
	return goja.Undefined()
}

// throw raises err as a JS exception carrying its kind and code.
func (e *Engine) throw(err error) {
	obj := e.runtime.NewGoError(err)
	_ = obj.Set("kind", core.KindOf(err).String())
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		_ = obj.Set("code", ee.Code)
	}
	e.thrown, e.thrownErr = obj, err
	panic(obj)
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Run executes a task script. name labels errors and stack traces.
//
// Cancelling ctx interrupts the runtime. An uncaught exception raised by a
// driver or visual call returns the original Go error, so errors.Is and
// core.KindOf see the driver's kind. Other exceptions are ActionFailed.
func (e *Engine) Run(ctx context.Context, name, script string) error {
	prog, err := goja.Compile(name, script, false)
	if err != nil {
		return core.ErrActionFailed.WithMessage(fmt.Sprintf("script %s does not compile", name)).WithCause(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx = ctx
	e.thrown, e.thrownErr = nil, nil
	defer func() { e.ctx = context.Background() }()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			e.runtime.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	_, err = e.runtime.RunProgram(prog)

	close(stop)
	wg.Wait()
	e.runtime.ClearInterrupt()

	if err != nil {
		return e.scriptError(ctx, name, err)
	}
	return nil
}

// scriptError maps a goja error to the error taxonomy.
func (e *Engine) scriptError(ctx context.Context, name string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.ErrTimeout.WithMessage(fmt.Sprintf("script %s interrupted", name)).WithCause(ctx.Err())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.ErrActionFailed.WithMessage(fmt.Sprintf("script %s interrupted", name)).WithCause(err)
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		if e.thrown != nil && ex.Value() == e.thrown {
			return fmt.Errorf("script %s: %w", name, e.thrownErr)
		}
		return core.ErrActionFailed.
			WithMessage(fmt.Sprintf("script %s threw: %s", name, ex.Value().String())).
			WithDetails(map[string]interface{}{"stack": ex.String()})
	}
	return core.ErrActionFailed.WithMessage(fmt.Sprintf("script %s failed", name)).WithCause(err)
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and returns string result
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", result), nil
}

// ExpandVariables expands ${...} expressions in a string using JS evaluation.
// Expressions that fail to evaluate are left as-is.
func (e *Engine) ExpandVariables(text string) string {
	result := text
	start := 0

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		// Find matching }
		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			if result[end] == '{' {
				depth++
			} else if result[end] == '}' {
				depth--
			}
			end++
		}
		if depth != 0 {
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]
		value, err := e.EvalString(expr)
		if err != nil {
			start = end
			continue
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}
	return result
}

// Close stops pending timers. Safe to call multiple times.
func (e *Engine) Close() {
	e.timers.closeOnce.Do(func() {
		e.timers.mu.Lock()
		defer e.timers.mu.Unlock()

		for _, timer := range e.timers.timers {
			timer.Stop()
		}
		e.timers.timers = make(map[int]*time.Timer)

		for _, ticker := range e.timers.tickers {
			ticker.Stop()
		}
		e.timers.tickers = make(map[int]*time.Ticker)

		close(e.timers.stopChan)
	})
}
