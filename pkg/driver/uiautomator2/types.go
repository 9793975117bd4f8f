package uiautomator2

// ElementModel references an element in gesture requests. Both key shapes
// are sent so older servers that only read ELEMENT still work.
type ElementModel struct {
	ELEMENT string `json:"ELEMENT"`
	W3C     string `json:"element-6066-11e4-a52e-4f735466cecf"`
}

func origin(id string) *ElementModel {
	return &ElementModel{ELEMENT: id, W3C: id}
}

// KeyCodeRequest for pressing keys.
type KeyCodeRequest struct {
	KeyCode  int `json:"keycode"`
	MetaKeys int `json:"metastate,omitempty"`
}

// ClickRequest for double-click gestures.
type ClickRequest struct {
	Origin *ElementModel `json:"origin,omitempty"`
}

// LongClickRequest for long press gestures.
type LongClickRequest struct {
	Origin   *ElementModel `json:"origin,omitempty"`
	Duration int64         `json:"duration,omitempty"` // milliseconds
}

// SwipeRequest for swipe and scroll gestures.
type SwipeRequest struct {
	Origin    *ElementModel `json:"origin,omitempty"`
	Direction string        `json:"direction"` // up, down, left, right
	Percent   float64       `json:"percent"`   // 0.0 - 1.0
	Speed     int           `json:"speed,omitempty"`
}

// OrientationRequest for setting orientation.
type OrientationRequest struct {
	Orientation string `json:"orientation"` // PORTRAIT, LANDSCAPE
}

// ClipboardRequest for setting clipboard.
type ClipboardRequest struct {
	Content     string `json:"content"`     // base64 encoded
	ContentType string `json:"contentType"` // plaintext
}

// SettingsRequest for updating settings.
type SettingsRequest struct {
	Settings map[string]interface{} `json:"settings"`
}

// DeviceInfo from the device info endpoint.
type DeviceInfo struct {
	AndroidID       string `json:"androidId"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	Brand           string `json:"brand"`
	APIVersion      string `json:"apiVersion"`
	PlatformVersion string `json:"platformVersion"`
	RealDisplaySize string `json:"realDisplaySize"`
	DisplayDensity  int    `json:"displayDensity"`
}

// Common Android key codes.
const (
	KeyCodeHome       = 3
	KeyCodeBack       = 4
	KeyCodeVolumeUp   = 24
	KeyCodeVolumeDown = 25
	KeyCodePower      = 26
	KeyCodeCamera     = 27
	KeyCodeTab        = 61
	KeyCodeSpace      = 62
	KeyCodeEnter      = 66
	KeyCodeDelete     = 67
	KeyCodeMenu       = 82
	KeyCodeSearch     = 84
	KeyCodeAppSwitch  = 187
	KeyCodeDpadUp     = 19
	KeyCodeDpadDown   = 20
	KeyCodeDpadLeft   = 21
	KeyCodeDpadRight  = 22
	KeyCodeDpadCenter = 23
)

// Locator strategies.
const (
	StrategyID              = "id"
	StrategyAccessibilityID = "accessibility id"
	StrategyXPath           = "xpath"
	StrategyUIAutomator     = "-android uiautomator"
)

// Orientations.
const (
	OrientationPortrait  = "PORTRAIT"
	OrientationLandscape = "LANDSCAPE"
)
