// Package bridgemock is a canned-response automation bridge for driver
// tests: each (method, path) pair maps to a fixed JSON body.
package bridgemock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// Request is a request the server received.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// JSON decodes the request body into a generic map.
func (r Request) JSON() map[string]interface{} {
	m := map[string]interface{}{}
	_ = json.Unmarshal(r.Body, &m)
	return m
}

// HandlerFunc computes a dynamic response.
type HandlerFunc func(Request) (status int, body string)

// Server is the mock bridge. The zero value is not usable; call New.
type Server struct {
	mu       sync.Mutex
	routes   map[string]HandlerFunc
	requests []Request

	ln   net.Listener
	srv  *http.Server
	done chan struct{}
	err  error
}

// New creates a server with no routes.
func New() *Server {
	return &Server{routes: make(map[string]HandlerFunc)}
}

// Handle registers a canned response. Method "*" matches any method.
func (s *Server) Handle(method, path string, status int, body string) *Server {
	return s.HandleFunc(method, path, func(Request) (int, string) { return status, body })
}

// JSON registers a 200 response with v marshalled as the body.
func (s *Server) JSON(method, path string, v interface{}) *Server {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("bridgemock: marshal %s %s: %v", method, path, err))
	}
	return s.Handle(method, path, http.StatusOK, string(data))
}

// HandleFunc registers a dynamic response.
func (s *Server) HandleFunc(method, path string, fn HandlerFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = fn
	return s
}

// Start listens on a free loopback port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: http.HandlerFunc(s.serveHTTP)}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Close stops accepting connections, waits for in-flight requests and the
// accept loop, and returns any error the accept loop hit.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownErr := s.srv.Shutdown(ctx)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if shutdownErr != nil {
		return shutdownErr
	}
	return s.err
}

// URL returns the server root, e.g. http://127.0.0.1:53211.
func (s *Server) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// DriverConfig returns a driver config pointing at the server.
func (s *Server) DriverConfig() core.DriverConfig {
	cfg := core.DefaultDriverConfig(core.PlatformWeb)
	cfg.Host = s.Host()
	cfg.Port = s.Port()
	return cfg
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Last returns the most recent request for method and path.
func (s *Server) Last(method, path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if r := s.requests[i]; r.Method == method && r.Path == path {
			return r, true
		}
	}
	return Request{}, false
}

// Count returns how many requests hit method and path.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	// Routes match the path as sent, so escaped segments stay escaped.
	path := r.URL.EscapedPath()
	req := Request{Method: r.Method, Path: path, Body: body}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn, ok := s.routes[r.Method+" "+path]
	if !ok {
		fn, ok = s.routes["* "+path]
	}
	s.mu.Unlock()

	status, out := http.StatusNotFound, fmt.Sprintf(
		`{"value":{"error":"unknown command","message":"no route for %s %s"}}`, r.Method, path)
	if ok {
		status, out = fn(req)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, out)
}
