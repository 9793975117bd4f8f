package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPollInterval is how often the wait helpers re-query the bridge.
const DefaultPollInterval = 100 * time.Millisecond

// WaitOption configures WaitForElement and WaitForElementGone.
type WaitOption func(*waitOptions)

type waitOptions struct {
	interval time.Duration
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WaitForElement polls FindElement then IsVisible until a visible element
// matches sel or timeout elapses. It is the only wait implementation; every
// driver gets waiting by composition.
func WaitForElement(ctx context.Context, d Driver, sel Selector, timeout time.Duration, opts ...WaitOption) (ElementHandle, error) {
	o := waitOptions{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(timeout)
	for {
		h, err := d.FindElement(ctx, sel)
		if err == nil {
			visible, verr := d.IsVisible(ctx, h)
			if verr == nil && visible {
				return h, nil
			}
			err = verr
		}
		if stopsWaiting(err) {
			return 0, err
		}

		if err := pause(ctx, deadline, o.interval); err != nil {
			return 0, ErrTimeout.
				WithMessage(fmt.Sprintf("element %s not visible after %v", sel, timeout)).
				WithCause(err)
		}
	}
}

// WaitForElementGone polls until no visible element matches sel. It returns
// false without error when the element is still visible at the deadline.
func WaitForElementGone(ctx context.Context, d Driver, sel Selector, timeout time.Duration, opts ...WaitOption) (bool, error) {
	o := waitOptions{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(timeout)
	for {
		h, err := d.FindElement(ctx, sel)
		switch {
		case errors.Is(err, ErrElementNotFound):
			return true, nil
		case err == nil:
			visible, verr := d.IsVisible(ctx, h)
			if verr == nil && !visible {
				return true, nil
			}
			if errors.Is(verr, ErrElementNotFound) {
				return true, nil
			}
			err = verr
		}
		if stopsWaiting(err) {
			return false, err
		}

		if pause(ctx, deadline, o.interval) != nil {
			return false, nil
		}
	}
}

// stopsWaiting reports whether err cannot be cured by polling again.
func stopsWaiting(err error) bool {
	return errors.Is(err, ErrInvalidSelector) || errors.Is(err, ErrNotConnected)
}

// pause sleeps for interval, clipped to the deadline. It returns an error
// once the deadline has passed or ctx is done.
func pause(ctx context.Context, deadline time.Time, interval time.Duration) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return context.DeadlineExceeded
	}
	wait := min(interval, remaining)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
