package bridge

import (
	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// W3CElementKey is the W3C WebDriver element reference key.
const W3CElementKey = "element-6066-11e4-a52e-4f735466cecf"

// elementKeys lists every key bridges use for element ids, in lookup order.
var elementKeys = []string{"ELEMENT", "elementId", W3CElementKey}

// Response is a raw bridge response body.
type Response struct {
	Status int
	Body   []byte
}

// Get returns the value at a gjson path.
func (r Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Value returns the W3C "value" member.
func (r Response) Value() gjson.Result {
	return r.Get("value")
}

// SessionID returns the session id from the top level or under value.
func (r Response) SessionID() string {
	if id := r.Get("sessionId").String(); id != "" {
		return id
	}
	return r.Get("value.sessionId").String()
}

// ElementID returns the element id from any of the accepted shapes:
// {"value":{"ELEMENT":..}}, {"value":{"elementId":..}}, the W3C key, or the
// same keys at the top level.
func (r Response) ElementID() (string, bool) {
	if id, ok := elementID(r.Value()); ok {
		return id, true
	}
	return elementID(gjson.ParseBytes(r.Body))
}

// ElementIDs returns ids from a "value" array or a top-level "elements"
// array. Array items may be element objects or bare id strings.
func (r Response) ElementIDs() []string {
	arr := r.Value()
	if !arr.IsArray() {
		arr = r.Get("elements")
	}
	ids := []string{}
	for _, item := range arr.Array() {
		if item.Type == gjson.String && item.String() != "" {
			ids = append(ids, item.String())
			continue
		}
		if id, ok := elementID(item); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// String returns value as a string, falling back to a top-level "value"
// scalar or "text" member.
func (r Response) String() string {
	if v := r.Value(); v.Exists() && !v.IsObject() && !v.IsArray() {
		return v.String()
	}
	return r.Get("text").String()
}

// Bool returns value as a bool.
func (r Response) Bool() bool {
	return r.Value().Bool()
}

// Rect returns x/y/width/height from value or the top level. Integer and
// fractional numbers are both accepted.
func (r Response) Rect() (core.Rect, bool) {
	for _, obj := range []gjson.Result{r.Value(), gjson.ParseBytes(r.Body)} {
		if !obj.IsObject() {
			continue
		}
		x, y := obj.Get("x"), obj.Get("y")
		w, h := obj.Get("width"), obj.Get("height")
		if !x.Exists() || !y.Exists() || !w.Exists() || !h.Exists() {
			continue
		}
		return core.Rect{X: x.Float(), Y: y.Float(), Width: w.Float(), Height: h.Float()}, true
	}
	return core.Rect{}, false
}

// ImageData returns base64 image data from "value" or "data".
func (r Response) ImageData() (string, bool) {
	if v := r.Value(); v.Type == gjson.String && v.String() != "" {
		return v.String(), true
	}
	if v := r.Get("data"); v.Type == gjson.String && v.String() != "" {
		return v.String(), true
	}
	return "", false
}

func elementID(obj gjson.Result) (string, bool) {
	if !obj.IsObject() {
		return "", false
	}
	for _, key := range elementKeys {
		if v := obj.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String(), true
		}
	}
	return "", false
}
