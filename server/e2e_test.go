package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshcore/sshd/internal/testutil/xhttp"
)

// TestDirectTCPIPForwarding is an end-to-end run of scenario-style
// local port forwarding (spec.md §4.5 direct-tcpip): a real ssh.Client
// dials through this daemon to an xhttp test server and gets the
// expected body back unchanged.
func TestDirectTCPIPForwarding(t *testing.T) {
	httpSrv, err := xhttp.NewTestServer("sshcore-e2e")
	if err != nil {
		t.Fatalf("http test server: %v", err)
	}
	defer httpSrv.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s, err := NewServer(Config{
		NoClientAuth:  true,
		TCPForwarding: true,
		KeySeed:       "sshcore-test-seed",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.StartWithContext(ctx, l) }()

	clientCfg := &ssh.ClientConfig{
		User:            "tester",
		Auth:            nil,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	client, err := ssh.Dial("tcp", l.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("ssh.Dial: %v", err)
	}
	defer client.Close()

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, network, addr string) (net.Conn, error) {
				return client.Dial(network, addr)
			},
		},
		Timeout: 5 * time.Second,
	}
	resp, err := httpClient.Get("http://" + httpSrv.Addr + "/")
	if err != nil {
		t.Fatalf("forwarded get: %v", err)
	}
	defer resp.Body.Close()
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	if got := string(body[:n]); got != "sshcore-e2e" {
		t.Fatalf("got %q, want sshcore-e2e", got)
	}

	cancel()
	<-done
}
