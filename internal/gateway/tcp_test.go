package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cmdgate-dev/cmdgate/internal/testutil"
)

// startTestTCPServer runs a TCP gateway on a loopback port and returns its
// address.
func startTestTCPServer(t *testing.T, opts TCPOptions) (*Server, string) {
	t.Helper()

	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	srv, err := NewTCPServer(opts, newTestOptions(t, nil), testutil.TestLogger(t))
	if err != nil {
		t.Fatalf("NewTCPServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
	})
	go func() { _ = srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	return srv, srv.Addr().String()
}

// tcpHandshake dials the gateway and sends the auth line.
func tcpHandshake(t *testing.T, addr, token string) (net.Conn, *bufio.Scanner) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if _, err := fmt.Fprintf(conn, `{"auth":%q}`+"\n", token); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	return conn, bufio.NewScanner(conn)
}

func TestNewTCPServerRequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewTCPServer(TCPOptions{}, newTestOptions(t, nil), testutil.TestLogger(t)); err == nil {
		t.Error("expected error for empty addr")
	}
}

func TestNewTCPServerRejectsBadAllowlist(t *testing.T) {
	t.Parallel()

	opts := TCPOptions{Addr: "127.0.0.1:0", AllowedIPs: []string{"not-an-ip"}}
	if _, err := NewTCPServer(opts, newTestOptions(t, nil), testutil.TestLogger(t)); err == nil {
		t.Error("expected error for invalid allowlist entry")
	}
}

func TestTCPServerAuth(t *testing.T) {
	t.Parallel()

	_, addr := startTestTCPServer(t, TCPOptions{
		RequireAuth: true,
		AuthToken:   "secret-token",
		AllowedIPs:  []string{"127.0.0.1", "::1"},
	})

	t.Run("valid token", func(t *testing.T) {
		conn, scanner := tcpHandshake(t, addr, "secret-token")
		resp := rpcCall(t, conn, scanner, "ping", nil, 1)
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
	})

	t.Run("wrong token closes connection", func(t *testing.T) {
		conn, scanner := tcpHandshake(t, addr, "wrong")
		if _, err := conn.Write([]byte(`{"method":"ping","id":1}` + "\n")); err != nil {
			return // already closed, also fine
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if scanner.Scan() {
			t.Errorf("expected no response, got %q", scanner.Text())
		}
	})

	t.Run("empty token closes connection", func(t *testing.T) {
		conn, scanner := tcpHandshake(t, addr, "")
		if _, err := conn.Write([]byte(`{"method":"ping","id":1}` + "\n")); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if scanner.Scan() {
			t.Errorf("expected no response, got %q", scanner.Text())
		}
	})
}

func TestTCPServerAnyTokenWithoutFixedToken(t *testing.T) {
	t.Parallel()

	_, addr := startTestTCPServer(t, TCPOptions{RequireAuth: true})

	conn, scanner := tcpHandshake(t, addr, "whatever")
	resp := rpcCall(t, conn, scanner, "ping", nil, 1)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestTCPClientRoundTrip(t *testing.T) {
	t.Parallel()

	_, addr := startTestTCPServer(t, TCPOptions{
		RequireAuth: true,
		AuthToken:   "tok",
		AllowedIPs:  []string{"127.0.0.1/32", "::1/128"},
	})

	client := NewClient("", WithTCPAddr(addr, "tok"), WithClientLogger(testutil.TestLogger(t)))
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Exec(ctx, "remote", "echo over-tcp")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.Outcome.Result.Stdout != "over-tcp\n" {
		t.Errorf("stdout = %q", res.Outcome.Result.Stdout)
	}
}

func TestClientFallsBackToUnixSocket(t *testing.T) {
	t.Parallel()

	_, socketPath := startTestServer(t, newTestOptions(t, nil))

	// Port 1 refuses connections, so the client should retry over the
	// Unix socket.
	client := NewClient(socketPath, WithTCPAddr("127.0.0.1:1", ""), WithClientLogger(testutil.TestLogger(t)))
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestParseAllowedIPNets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		values   []string
		wantErr  bool
		contains []string
		excludes []string
	}{
		{
			name:     "bare ipv4 gets host mask",
			values:   []string{"127.0.0.1"},
			contains: []string{"127.0.0.1"},
			excludes: []string{"127.0.0.2"},
		},
		{
			name:     "cidr range",
			values:   []string{"10.0.0.0/8"},
			contains: []string{"10.1.2.3"},
			excludes: []string{"11.0.0.1"},
		},
		{
			name:     "bare ipv6 gets host mask",
			values:   []string{"::1"},
			contains: []string{"::1"},
			excludes: []string{"::2"},
		},
		{
			name:     "blank entries skipped",
			values:   []string{"", "  ", "192.168.1.1"},
			contains: []string{"192.168.1.1"},
		},
		{
			name:    "invalid ip",
			values:  []string{"not-an-ip"},
			wantErr: true,
		},
		{
			name:    "invalid cidr",
			values:  []string{"10.0.0.0/99"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			nets, err := parseAllowedIPNets(tt.values)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAllowedIPNets() error = %v", err)
			}
			for _, ip := range tt.contains {
				if !ipAllowed(net.ParseIP(ip), nets) {
					t.Errorf("expected %s to be allowed", ip)
				}
			}
			for _, ip := range tt.excludes {
				if ipAllowed(net.ParseIP(ip), nets) {
					t.Errorf("expected %s to be blocked", ip)
				}
			}
		})
	}
}

func TestIPAllowedEmptyInputs(t *testing.T) {
	t.Parallel()

	nets, err := parseAllowedIPNets([]string{"127.0.0.1"})
	if err != nil {
		t.Fatalf("parseAllowedIPNets() error = %v", err)
	}
	if ipAllowed(nil, nets) {
		t.Error("nil ip must not be allowed")
	}
	if ipAllowed(net.ParseIP("127.0.0.1"), nil) {
		t.Error("empty allowlist must not match")
	}
}

func TestExtractRemoteIP(t *testing.T) {
	t.Parallel()

	ip, err := extractRemoteIP(&net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 1234})
	if err != nil {
		t.Fatalf("extractRemoteIP() error = %v", err)
	}
	if ip.String() != "192.0.2.7" {
		t.Errorf("ip = %s", ip)
	}

	if _, err := extractRemoteIP(nil); err == nil {
		t.Error("expected error for nil addr")
	}
}
