// Package driver selects the bridge driver for a platform.
package driver

import (
	"fmt"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/atspi"
	"github.com/devicelab-dev/zylix-test/pkg/driver/macos"
	"github.com/devicelab-dev/zylix-test/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/zylix-test/pkg/driver/wda"
	"github.com/devicelab-dev/zylix-test/pkg/driver/watchos"
	"github.com/devicelab-dev/zylix-test/pkg/driver/web"
)

// New creates a driver for platform p. Zero fields of cfg take the
// platform defaults.
func New(p core.Platform, cfg core.DriverConfig, opts ...bridge.Option) (core.Driver, error) {
	def := core.DefaultDriverConfig(p)
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	switch p {
	case core.PlatformWeb:
		return web.New(cfg, opts...), nil
	case core.PlatformIOS:
		return wda.New(cfg, opts...), nil
	case core.PlatformWatchOS:
		return watchos.New(cfg, opts...), nil
	case core.PlatformAndroid:
		return uiautomator2.New(cfg, opts...), nil
	case core.PlatformMacOS:
		return macos.New(cfg, opts...), nil
	case core.PlatformLinux:
		return atspi.New(cfg, opts...), nil
	}
	return nil, fmt.Errorf("unsupported platform %q", p)
}
