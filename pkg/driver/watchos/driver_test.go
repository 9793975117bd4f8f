package watchos

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/zylix-test/pkg/bridgemock"
	"github.com/devicelab-dev/zylix-test/pkg/core"
)

func startWatch(t *testing.T) (*bridgemock.Server, *Driver) {
	t.Helper()
	ok := map[string]interface{}{"value": nil}
	s := bridgemock.New().
		JSON("POST", "/session", map[string]interface{}{"value": map[string]interface{}{"sessionId": "w"}}).
		JSON("POST", "/session/w/wda/digitalCrown/rotate", ok).
		JSON("POST", "/session/w/wda/sideButton/press", ok).
		JSON("POST", "/session/w/wda/sideButton/doublePress", ok).
		JSON("GET", "/session/w/wda/companion/info", map[string]interface{}{"value": map[string]interface{}{
			"deviceName": "iPhone 15", "udid": "PHONE-1", "isPaired": true,
		}})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	d := New(s.DriverConfig())
	if err := d.Launch(context.Background(), core.LaunchConfig{AppID: "com.example.watch", CompanionDeviceID: "PHONE-1"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return s, d
}

func TestPlatformAndCapabilities(t *testing.T) {
	s, d := startWatch(t)
	if d.Platform() != core.PlatformWatchOS {
		t.Errorf("Platform() = %s", d.Platform())
	}
	req, _ := s.Last("POST", "/session")
	caps := req.JSON()["capabilities"].(map[string]interface{})["alwaysMatch"].(map[string]interface{})
	if caps["platformName"] != "watchOS" || caps["companionDeviceUdid"] != "PHONE-1" {
		t.Errorf("unexpected caps %v", caps)
	}
}

func TestRotateDigitalCrown(t *testing.T) {
	s, d := startWatch(t)
	ctx := context.Background()

	if err := d.RotateDigitalCrown(ctx, core.DirectionDown, 2); err != nil {
		t.Fatalf("RotateDigitalCrown failed: %v", err)
	}
	body := s.Requests()[len(s.Requests())-1].JSON()
	if body["direction"] != "down" || body["velocity"] != float64(-2) {
		t.Errorf("unexpected rotate body %v", body)
	}

	if err := d.RotateDigitalCrown(ctx, core.DirectionLeft, 1); !errors.Is(err, core.ErrActionFailed) {
		t.Errorf("Expected action failed for sideways rotation, got %v", err)
	}
}

func TestSideButtonAndCompanion(t *testing.T) {
	s, d := startWatch(t)
	ctx := context.Background()

	if err := d.PressSideButton(ctx); err != nil {
		t.Errorf("PressSideButton failed: %v", err)
	}
	if err := d.DoublePressSideButton(ctx); err != nil {
		t.Errorf("DoublePressSideButton failed: %v", err)
	}
	if s.Count("POST", "/session/w/wda/sideButton/doublePress") != 1 {
		t.Error("double press not sent")
	}

	info, err := d.CompanionInfo(ctx)
	if err != nil {
		t.Fatalf("CompanionInfo failed: %v", err)
	}
	if info.DeviceName != "iPhone 15" || info.DeviceID != "PHONE-1" || !info.Paired {
		t.Errorf("unexpected companion %+v", info)
	}
}
