package gateway

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// handshakeTimeout bounds how long a TCP client may take to send its auth
// line.
const handshakeTimeout = 3 * time.Second

// TCPOptions configures the optional TCP listener for remote callers.
type TCPOptions struct {
	Addr string
	// RequireAuth demands a non-empty auth token in the handshake.
	RequireAuth bool
	// AllowedIPs restricts clients to these IPs or CIDR ranges. Empty
	// allows any source address.
	AllowedIPs []string
	// AuthToken, when set, is the only accepted token. When empty and
	// RequireAuth is true, any non-empty token passes.
	AuthToken string
}

// NewTCPServer starts a TCP listener speaking the same line-delimited
// JSON-RPC protocol as the Unix socket, preceded by one handshake line:
// {"auth":"<token>"}.
func NewTCPServer(opts TCPOptions, serverOpts Options, logger *log.Logger) (*Server, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("tcp addr is required")
	}

	allowedNets, err := parseAllowedIPNets(opts.AllowedIPs)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	guard := func(conn net.Conn, scanner *bufio.Scanner) error {
		remoteIP, err := extractRemoteIP(conn.RemoteAddr())
		if err != nil {
			return err
		}
		if len(allowedNets) > 0 && !ipAllowed(remoteIP, allowedNets) {
			return fmt.Errorf("tcp client ip not allowed: %s", remoteIP)
		}

		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("handshake read error: %w", err)
			}
			return fmt.Errorf("handshake missing")
		}

		var hello struct {
			Auth string `json:"auth"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &hello); err != nil {
			return fmt.Errorf("invalid handshake: %w", err)
		}

		auth := strings.TrimSpace(hello.Auth)
		if opts.RequireAuth && auth == "" {
			return fmt.Errorf("auth required")
		}
		if opts.AuthToken != "" {
			if subtle.ConstantTimeCompare([]byte(auth), []byte(opts.AuthToken)) != 1 {
				return fmt.Errorf("invalid auth")
			}
		}
		return nil
	}

	srv, err := newServer(ln, addr, serverOpts, logger, guard)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return srv, nil
}

// parseAllowedIPNets turns IPs and CIDR ranges into networks. Bare IPs get
// a /32 or /128 mask.
func parseAllowedIPNets(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			_, n, err := net.ParseCIDR(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid allowed ip cidr %q: %w", raw, err)
			}
			nets = append(nets, n)
			continue
		}

		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid allowed ip %q", raw)
		}
		if ip4 := ip.To4(); ip4 != nil {
			nets = append(nets, &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)})
		} else {
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)})
		}
	}
	return nets, nil
}

func extractRemoteIP(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("missing remote address")
	}
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP != nil {
		return tcp.IP, nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("unable to parse remote ip: %s", addr.String())
	}
	return ip, nil
}

func ipAllowed(ip net.IP, allowed []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range allowed {
		if n != nil && n.Contains(ip) {
			return true
		}
	}
	return false
}
