// Package watchos drives Apple Watch apps. It reuses the WebDriverAgent
// driver and adds the crown and side-button controls.
package watchos

import (
	"context"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/wda"
)

// Driver is a watchOS driver.
type Driver struct {
	*wda.Driver
}

// New creates a watchOS driver for the WDA server at cfg.
func New(cfg core.DriverConfig, opts ...bridge.Option) *Driver {
	return &Driver{Driver: wda.NewWithDialect(cfg, wda.Dialect{Target: core.PlatformWatchOS}, opts...)}
}

// CompanionInfo describes the iPhone paired with the watch.
type CompanionInfo struct {
	DeviceName string
	DeviceID   string
	Paired     bool
}

// RotateDigitalCrown turns the crown. dir must be up or down; velocity is
// in rotations per second and is negated for down.
func (d *Driver) RotateDigitalCrown(ctx context.Context, dir core.Direction, velocity float64) error {
	if dir != core.DirectionUp && dir != core.DirectionDown {
		return core.ErrActionFailed.WithMessage("digital crown rotates up or down, got " + string(dir))
	}
	if velocity <= 0 {
		velocity = 1
	}
	if dir == core.DirectionDown {
		velocity = -velocity
	}
	_, err := d.Post(ctx, "/wda/digitalCrown/rotate", map[string]interface{}{
		"direction": string(dir),
		"velocity":  velocity,
	})
	return err
}

func (d *Driver) PressSideButton(ctx context.Context) error {
	_, err := d.Post(ctx, "/wda/sideButton/press", nil)
	return err
}

func (d *Driver) DoublePressSideButton(ctx context.Context) error {
	_, err := d.Post(ctx, "/wda/sideButton/doublePress", nil)
	return err
}

// CompanionInfo reports the paired iPhone.
func (d *Driver) CompanionInfo(ctx context.Context) (CompanionInfo, error) {
	resp, err := d.Get(ctx, "/wda/companion/info")
	if err != nil {
		return CompanionInfo{}, err
	}
	v := resp.Value()
	return CompanionInfo{
		DeviceName: v.Get("deviceName").String(),
		DeviceID:   v.Get("udid").String(),
		Paired:     v.Get("isPaired").Bool(),
	}, nil
}
