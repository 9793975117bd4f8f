package bridge

import (
	"reflect"
	"testing"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

func TestResponse_SessionID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"value":{"sessionId":"nested"}}`, "nested"},
		{`{"sessionId":"top"}`, "top"},
		{`{"sessionId":"session-1","pid":42,"success":true}`, "session-1"},
		{`{"value":{}}`, ""},
	}
	for _, tt := range tests {
		if got := (Response{Body: []byte(tt.body)}).SessionID(); got != tt.want {
			t.Errorf("SessionID(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestResponse_ElementIDShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"ELEMENT under value", `{"value":{"ELEMENT":"e1"}}`, "e1"},
		{"elementId under value", `{"value":{"elementId":"e2"}}`, "e2"},
		{"w3c key", `{"value":{"element-6066-11e4-a52e-4f735466cecf":"e3"}}`, "e3"},
		{"top-level elementId", `{"elementId":"ax-4"}`, "ax-4"},
		{"top-level ELEMENT", `{"ELEMENT":"e5"}`, "e5"},
		{"ELEMENT wins over w3c", `{"value":{"element-6066-11e4-a52e-4f735466cecf":"w","ELEMENT":"e"}}`, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Response{Body: []byte(tt.body)}.ElementID()
			if !ok || got != tt.want {
				t.Errorf("ElementID() = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}

	for _, body := range []string{`{"value":null}`, `{"elementId":null}`, `{"value":{"other":1}}`} {
		if id, ok := (Response{Body: []byte(body)}).ElementID(); ok {
			t.Errorf("ElementID(%s) should be absent, got %q", body, id)
		}
	}
}

func TestResponse_ElementIDs(t *testing.T) {
	tests := []struct {
		body string
		want []string
	}{
		{`{"value":[{"ELEMENT":"a"},{"elementId":"b"},{"element-6066-11e4-a52e-4f735466cecf":"c"}]}`, []string{"a", "b", "c"}},
		{`{"elements":["ax-1","ax-2"]}`, []string{"ax-1", "ax-2"}},
		{`{"elements":[{"elementId":"ax-3"}]}`, []string{"ax-3"}},
		{`{"value":[]}`, []string{}},
	}
	for _, tt := range tests {
		got := Response{Body: []byte(tt.body)}.ElementIDs()
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ElementIDs(%s) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestResponse_RectNormalisesNumbers(t *testing.T) {
	tests := []struct {
		body string
		want core.Rect
	}{
		{`{"value":{"x":10,"y":20,"width":100,"height":50}}`, core.Rect{X: 10, Y: 20, Width: 100, Height: 50}},
		{`{"value":{"x":10.5,"y":20.25,"width":100,"height":50.75}}`, core.Rect{X: 10.5, Y: 20.25, Width: 100, Height: 50.75}},
		{`{"x":1,"y":2,"width":3,"height":4}`, core.Rect{X: 1, Y: 2, Width: 3, Height: 4}},
	}
	for _, tt := range tests {
		got, ok := Response{Body: []byte(tt.body)}.Rect()
		if !ok || got != tt.want {
			t.Errorf("Rect(%s) = %+v, %v; want %+v", tt.body, got, ok, tt.want)
		}
	}

	if _, ok := (Response{Body: []byte(`{"value":{"x":1}}`)}).Rect(); ok {
		t.Error("incomplete rect should not parse")
	}
}

func TestResponse_StringAndBool(t *testing.T) {
	if got := (Response{Body: []byte(`{"value":"Hello"}`)}).String(); got != "Hello" {
		t.Errorf("String() = %q", got)
	}
	if got := (Response{Body: []byte(`{"text":"desktop"}`)}).String(); got != "desktop" {
		t.Errorf("String() fallback = %q", got)
	}
	if !(Response{Body: []byte(`{"value":true}`)}).Bool() {
		t.Error("Bool() should be true")
	}
}

func TestResponse_ImageData(t *testing.T) {
	if got, ok := (Response{Body: []byte(`{"value":"aGk="}`)}).ImageData(); !ok || got != "aGk=" {
		t.Errorf("ImageData() value = %q, %v", got, ok)
	}
	if got, ok := (Response{Body: []byte(`{"data":"aGk="}`)}).ImageData(); !ok || got != "aGk=" {
		t.Errorf("ImageData() data = %q, %v", got, ok)
	}
	if _, ok := (Response{Body: []byte(`{"value":null}`)}).ImageData(); ok {
		t.Error("ImageData() should be absent")
	}
}
