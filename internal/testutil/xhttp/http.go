// Package xhttp provides a minimal HTTP test server used by the
// connection-multiplexer's forwarded-tcpip end-to-end tests, adapted
// from _examples/jpillora-sshd-lite/sshd/xhttp.
package xhttp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sshcore/sshd/internal/testutil/xnet"
)

// TestServer is a throwaway HTTP server bound to a random loopback
// port, for use as the target of a forwarded-tcpip channel.
type TestServer struct {
	Listener net.Listener
	Server   *http.Server
	Addr     string
}

// Close shuts the server and its listener down.
func (s *TestServer) Close() {
	s.Listener.Close()
	s.Server.Close()
}

// NewTestServer starts a server that answers "/" with message and
// 404s everything else.
func NewTestServer(message string) (*TestServer, error) {
	listener, addr, err := xnet.GetRandomListener()
	if err != nil {
		return nil, fmt.Errorf("xhttp: listener: %w", err)
	}

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				if _, err := w.Write([]byte(message)); err != nil {
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
				return
			}
			http.NotFound(w, r)
		}),
	}
	go server.Serve(listener) //nolint:errcheck

	return &TestServer{Listener: listener, Server: server, Addr: addr}, nil
}

// Get performs an HTTP GET and compares the body against want.
func Get(url, want string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("xhttp: get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("xhttp: read body: %w", err)
	}
	if string(body) != want {
		return fmt.Errorf("xhttp: got %q, want %q", body, want)
	}
	return nil
}
