package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// jsonResponse writes a JSON response
func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func TestNewClient(t *testing.T) {
	client := NewClient(core.DriverConfig{Host: "localhost", Port: 8100})

	if client.BaseURL() != "http://localhost:8100" {
		t.Errorf("Expected baseURL 'http://localhost:8100', got '%s'", client.BaseURL())
	}
	if client.httpClient == nil {
		t.Error("Expected httpClient to be initialized")
	}
	if client.limiter != nil {
		t.Error("Expected no rate limiter by default")
	}
}

func TestNewClientRateLimit(t *testing.T) {
	client := NewClient(core.DriverConfig{Port: 1, RequestsPerSecond: 5})
	if client.limiter == nil {
		t.Fatal("Expected rate limiter to be configured")
	}
	if client.BaseURL() != "http://127.0.0.1:1" {
		t.Errorf("Expected default host, got %s", client.BaseURL())
	}
}

func TestPostSendsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/session/s1/element" {
			t.Errorf("Expected POST /session/s1/element, got %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["using"] != "accessibility id" || body["value"] != "login" {
			t.Errorf("Unexpected body %v", body)
		}
		jsonResponse(w, map[string]interface{}{"value": map[string]interface{}{"ELEMENT": "el-1"}})
	}))
	defer server.Close()

	client := NewClientURL(server.URL)
	resp, err := client.Post(context.Background(), "/session/s1/element", map[string]string{
		"using": "accessibility id",
		"value": "login",
	})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if id, ok := resp.ElementID(); !ok || id != "el-1" {
		t.Errorf("Expected el-1, got %q", id)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *core.ExecutionError
	}{
		{"w3c no such element", 404, `{"value":{"error":"no such element","message":"gone"}}`, core.ErrElementNotFound},
		{"stale element", 404, `{"value":{"error":"stale element reference","message":"stale"}}`, core.ErrElementNotFound},
		{"invalid selector", 400, `{"value":{"error":"invalid selector","message":"bad"}}`, core.ErrInvalidSelector},
		{"invalid session", 404, `{"value":{"error":"invalid session id","message":"dead"}}`, core.ErrNotConnected},
		{"generic w3c", 500, `{"value":{"error":"unknown error","message":"boom"}}`, core.ErrActionFailed},
		{"error with 200", 200, `{"value":{"error":"unknown error","message":"boom"}}`, core.ErrActionFailed},
		{"desktop top-level error", 200, `{"error":"Element not found"}`, core.ErrElementNotFound},
		{"plain 500", 500, `internal`, core.ErrActionFailed},
		{"invalid json", 200, `not json`, core.ErrActionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClientURL(server.URL).Get(context.Background(), "/x")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want.Kind, err)
			}
		})
	}
}

func TestErrorMessageIncludesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte(`{"value":{"error":"unknown error","message":"boom"}}`))
	}))
	defer server.Close()

	_, err := NewClientURL(server.URL).Post(context.Background(), "/session/s/actions", nil)
	if err == nil || !strings.Contains(err.Error(), "POST /session/s/actions: boom") {
		t.Errorf("Expected message with method and path, got %v", err)
	}
}

func TestNullErrorIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elementId":"ax-1","error":null}`))
	}))
	defer server.Close()

	resp, err := NewClientURL(server.URL).Post(context.Background(), "/session/s/findElement", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if id, _ := resp.ElementID(); id != "ax-1" {
		t.Errorf("Expected ax-1, got %q", id)
	}
}

func TestConnectionFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClientURL(url).Get(context.Background(), "/status")
	if !errors.Is(err, core.ErrConnectionFailed) {
		t.Errorf("Expected connection failure, got %v", err)
	}
}

func TestContextDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClientURL(server.URL).Get(ctx, "/slow")
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("in-flight request was not aborted by the context")
	}
}

func TestMaxResponseSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":"` + strings.Repeat("A", 200) + `"}`))
	}))
	defer server.Close()

	_, err := NewClientURL(server.URL, WithMaxResponseSize(64)).Get(context.Background(), "/screenshot")
	if !errors.Is(err, core.ErrBufferTooSmall) {
		t.Errorf("Expected buffer too small, got %v", err)
	}
}

func TestDeleteMethod(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		jsonResponse(w, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	if _, err := NewClientURL(server.URL).Delete(context.Background(), "/session/abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if method != "DELETE" {
		t.Errorf("Expected DELETE, got %s", method)
	}
}
