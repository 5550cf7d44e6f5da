package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Client talks to a running gateway over its Unix socket, or over TCP when
// a remote address is configured. The connection is established lazily on
// the first call and reused until Close.
type Client struct {
	socketPath string
	tcpAddr    string
	authToken  string
	logger     *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTCPAddr prefers a TCP connection with the given auth token, falling
// back to the Unix socket when the address is unreachable.
func WithTCPAddr(addr, token string) ClientOption {
	return func(c *Client) {
		c.tcpAddr = strings.TrimSpace(addr)
		c.authToken = strings.TrimSpace(token)
	}
}

// WithClientLogger overrides the client's logger.
func WithClientLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a gateway client for socketPath.
func NewClient(socketPath string, opts ...ClientOption) *Client {
	c := &Client{
		socketPath: socketPath,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connectLocked dials the gateway. TCP, when configured, is tried first
// with the auth handshake; failure degrades to the Unix socket.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var d net.Dialer
	if c.tcpAddr != "" {
		conn, err := d.DialContext(ctx, "tcp", c.tcpAddr)
		if err == nil {
			if err := writeHandshake(conn, c.authToken); err != nil {
				_ = conn.Close()
				return err
			}
			c.conn = conn
			c.reader = bufio.NewReader(conn)
			return nil
		}
		c.logger.Debug("tcp gateway unreachable, trying unix socket", "addr", c.tcpAddr, "err", err)
	}

	if strings.TrimSpace(c.socketPath) == "" {
		return fmt.Errorf("gateway socket path is empty")
	}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func writeHandshake(conn net.Conn, token string) error {
	hello, err := json.Marshal(map[string]string{"auth": token})
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	hello = append(hello, '\n')
	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return nil
}

// rawResponse defers result decoding to the typed wrappers.
type rawResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// call sends one request and waits for its response line.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	c.nextID++
	req := RPCRequest{Method: method, ID: c.nextID}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		c.dropConnLocked()
		return nil, fmt.Errorf("write request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.dropConnLocked()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp rawResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// Close closes the connection. Safe to call without one.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConnLocked()
	return nil
}

// IsRunning reports whether a gateway answers ping within a short timeout.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := c.Ping(ctx)
	return err == nil
}

// MustBeRunning returns an error telling the user how to start the gateway
// when no gateway answers.
func (c *Client) MustBeRunning() error {
	if c.IsRunning() {
		return nil
	}
	return fmt.Errorf("gateway not running - start with: cmdgate serve")
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	raw, err := c.call(ctx, "ping", nil)
	if err != nil {
		return nil, err
	}
	var result PingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal ping result: %w", err)
	}
	if !result.Pong {
		return nil, fmt.Errorf("unexpected ping response")
	}
	return &result, nil
}

// Status fetches daemon diagnostics.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	raw, err := c.call(ctx, "status", nil)
	if err != nil {
		return nil, err
	}
	var result StatusResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal status result: %w", err)
	}
	return &result, nil
}

// Exec submits one command through the gate.
func (c *Client) Exec(ctx context.Context, sessionID, command string) (*ExecResult, error) {
	raw, err := c.call(ctx, "exec", ExecParams{SessionID: sessionID, Command: command})
	if err != nil {
		return nil, err
	}
	var result ExecResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal exec result: %w", err)
	}
	return &result, nil
}

// Ask runs one assisted exchange.
func (c *Client) Ask(ctx context.Context, sessionID, question string) (*AskReply, error) {
	raw, err := c.call(ctx, "ask", AskParams{SessionID: sessionID, Question: question})
	if err != nil {
		return nil, err
	}
	var result AskReply
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal ask result: %w", err)
	}
	return &result, nil
}

// Approve resolves a ticket and executes its command.
func (c *Client) Approve(ctx context.Context, sessionID, ticketID string) (*ExecResult, error) {
	raw, err := c.call(ctx, "approve", ApproveParams{SessionID: sessionID, TicketID: ticketID})
	if err != nil {
		return nil, err
	}
	var result ExecResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal approve result: %w", err)
	}
	return &result, nil
}

// Pending lists parked tickets.
func (c *Client) Pending(ctx context.Context) (*PendingResult, error) {
	raw, err := c.call(ctx, "pending", nil)
	if err != nil {
		return nil, err
	}
	var result PendingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal pending result: %w", err)
	}
	return &result, nil
}

// History fetches a session's conversation snapshot.
func (c *Client) History(ctx context.Context, sessionID string) (*HistoryResult, error) {
	raw, err := c.call(ctx, "history", SessionParams{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var result HistoryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal history result: %w", err)
	}
	return &result, nil
}

// Clear wipes a session's conversation.
func (c *Client) Clear(ctx context.Context, sessionID string) (*ClearResult, error) {
	raw, err := c.call(ctx, "clear", SessionParams{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var result ClearResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal clear result: %w", err)
	}
	return &result, nil
}

// Audit queries the journal through the gateway.
func (c *Client) Audit(ctx context.Context, params AuditParams) (*AuditResult, error) {
	raw, err := c.call(ctx, "audit", params)
	if err != nil {
		return nil, err
	}
	var result AuditResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal audit result: %w", err)
	}
	return &result, nil
}
