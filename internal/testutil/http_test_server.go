package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// IPv4Server is an HTTP test server bound to the IPv4 loopback interface,
// for environments where httptest's listener selection is unreliable.
type IPv4Server struct {
	URL      string
	listener net.Listener
	server   *http.Server
	client   *http.Client
}

// NewIPv4Server starts an HTTP server on 127.0.0.1 and skips the test when
// the tcp4 loopback is unavailable.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	s := &IPv4Server{
		URL:      "http://" + l.Addr().String(),
		listener: l,
		server:   &http.Server{Handler: handler},
		client:   &http.Client{Transport: &http.Transport{}},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	if tr, ok := s.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
