package wda

import (
	"context"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// Hardware buttons accepted by PressButton.
const (
	ButtonHome       = "home"
	ButtonVolumeUp   = "volumeUp"
	ButtonVolumeDown = "volumeDown"
)

// Orientations.
const (
	OrientationPortrait  = "PORTRAIT"
	OrientationLandscape = "LANDSCAPE"
)

// TapAt taps screen coordinates.
func (d *Driver) TapAt(ctx context.Context, x, y float64) error {
	_, err := d.Post(ctx, "/wda/tap", map[string]interface{}{"x": x, "y": y})
	return err
}

// Shake performs the shake gesture (simulator only).
func (d *Driver) Shake(ctx context.Context) error {
	_, err := d.Post(ctx, "/wda/shake", nil)
	return err
}

// Lock locks the screen. A positive dur unlocks again after dur, like the
// Appium lock command.
func (d *Driver) Lock(ctx context.Context, dur time.Duration) error {
	if _, err := d.Post(ctx, "/wda/lock", nil); err != nil {
		return err
	}
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return core.ErrTimeout.WithCause(ctx.Err())
	case <-t.C:
	}
	return d.Unlock(ctx)
}

func (d *Driver) Unlock(ctx context.Context) error {
	_, err := d.Post(ctx, "/wda/unlock", nil)
	return err
}

// PressButton presses a hardware button (home, volumeUp, volumeDown).
func (d *Driver) PressButton(ctx context.Context, name string) error {
	_, err := d.Post(ctx, "/wda/pressButton", map[string]string{"name": name})
	return err
}

// Home presses the home button.
func (d *Driver) Home(ctx context.Context) error {
	return d.PressButton(ctx, ButtonHome)
}

// Source returns the UI hierarchy as XML.
func (d *Driver) Source(ctx context.Context) (string, error) {
	resp, err := d.Get(ctx, "/source")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// WindowSize returns the screen dimensions in points.
func (d *Driver) WindowSize(ctx context.Context) (width, height int, err error) {
	resp, err := d.Get(ctx, "/window/size")
	if err != nil {
		return 0, 0, err
	}
	v := resp.Value()
	if !v.Get("width").Exists() || !v.Get("height").Exists() {
		return 0, 0, core.ErrActionFailed.WithMessage("invalid window size response")
	}
	return int(v.Get("width").Int()), int(v.Get("height").Int()), nil
}

func (d *Driver) Orientation(ctx context.Context) (string, error) {
	resp, err := d.Get(ctx, "/orientation")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (d *Driver) SetOrientation(ctx context.Context, orientation string) error {
	_, err := d.Post(ctx, "/orientation", map[string]string{"orientation": orientation})
	return err
}

// OpenURL opens a URL or deep link on the device.
func (d *Driver) OpenURL(ctx context.Context, url string) error {
	_, err := d.Post(ctx, "/url", map[string]string{"url": url})
	return err
}

// ActivateApp brings an installed app to the foreground.
func (d *Driver) ActivateApp(ctx context.Context, bundleID string) error {
	_, err := d.Post(ctx, "/wda/apps/activate", map[string]string{"bundleId": bundleID})
	return err
}

// TerminateApp stops an app without ending the session.
func (d *Driver) TerminateApp(ctx context.Context, bundleID string) error {
	_, err := d.Post(ctx, "/wda/apps/terminate", map[string]string{"bundleId": bundleID})
	return err
}
