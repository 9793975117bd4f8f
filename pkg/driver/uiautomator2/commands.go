package uiautomator2

import (
	"context"
	"encoding/base64"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// PressBack presses the system back button.
func (d *Driver) PressBack(ctx context.Context) error {
	_, err := d.Post(ctx, "/back", nil)
	return err
}

func (d *Driver) PressHome(ctx context.Context) error {
	return d.PressKeyCode(ctx, KeyCodeHome)
}

func (d *Driver) PressRecentApps(ctx context.Context) error {
	return d.PressKeyCode(ctx, KeyCodeAppSwitch)
}

// PressKeyCode sends an Android key event.
func (d *Driver) PressKeyCode(ctx context.Context, code int) error {
	_, err := d.Post(ctx, "/appium/device/press_keycode", KeyCodeRequest{KeyCode: code})
	return err
}

func (d *Driver) LongPressKeyCode(ctx context.Context, code int) error {
	_, err := d.Post(ctx, "/appium/device/long_press_keycode", KeyCodeRequest{KeyCode: code})
	return err
}

// OpenNotifications pulls down the notification shade.
func (d *Driver) OpenNotifications(ctx context.Context) error {
	_, err := d.Post(ctx, "/appium/device/open_notifications", nil)
	return err
}

// DeviceInfo returns the device model and OS details.
func (d *Driver) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := d.Get(ctx, "/appium/device/info")
	if err != nil {
		return DeviceInfo{}, err
	}
	v := resp.Value()
	return DeviceInfo{
		AndroidID:       v.Get("androidId").String(),
		Manufacturer:    v.Get("manufacturer").String(),
		Model:           v.Get("model").String(),
		Brand:           v.Get("brand").String(),
		APIVersion:      v.Get("apiVersion").String(),
		PlatformVersion: v.Get("platformVersion").String(),
		RealDisplaySize: v.Get("realDisplaySize").String(),
		DisplayDensity:  int(v.Get("displayDensity").Int()),
	}, nil
}

// Clipboard returns the plaintext clipboard contents.
func (d *Driver) Clipboard(ctx context.Context) (string, error) {
	resp, err := d.Post(ctx, "/appium/device/get_clipboard", map[string]string{"contentType": "plaintext"})
	if err != nil {
		return "", err
	}
	data, err := bridge.DecodeBase64(resp.String())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Driver) SetClipboard(ctx context.Context, text string) error {
	_, err := d.Post(ctx, "/appium/device/set_clipboard", ClipboardRequest{
		Content:     base64.StdEncoding.EncodeToString([]byte(text)),
		ContentType: "plaintext",
	})
	return err
}

func (d *Driver) SetOrientation(ctx context.Context, orientation string) error {
	if orientation != OrientationPortrait && orientation != OrientationLandscape {
		return core.ErrActionFailed.WithMessage("unknown orientation " + orientation)
	}
	_, err := d.Post(ctx, "/orientation", OrientationRequest{Orientation: orientation})
	return err
}

// UpdateSettings changes server settings such as waitForIdleTimeout.
func (d *Driver) UpdateSettings(ctx context.Context, settings map[string]interface{}) error {
	_, err := d.Post(ctx, "/appium/settings", SettingsRequest{Settings: settings})
	return err
}

// Source returns the UI hierarchy as XML.
func (d *Driver) Source(ctx context.Context) (string, error) {
	resp, err := d.Get(ctx, "/source")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}
