// Package gateway serves the command pipeline over line-delimited JSON-RPC.
//
// Requests arrive on a Unix socket (and optionally TCP with an auth
// handshake), one JSON object per line. Every request names a method from a
// fixed registry; the registry is sealed at startup so an unknown method can
// only ever produce a structured error, never a crash.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

// JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	// ErrCodeBusy means the worker pool queue is full; retry later.
	ErrCodeBusy = -32000
)

// RPCRequest is one request frame.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int64           `json:"id"`
}

// RPCError is a structured failure attached to a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCResponse is one response frame. Exactly one of Result and Error is set.
type RPCResponse struct {
	ID     int64     `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// AskParams asks the completion engine a question within a session.
type AskParams struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question" validate:"required"`
}

// ExecParams submits one raw command to the gate.
type ExecParams struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command" validate:"required"`
}

// ApproveParams resolves a parked ticket and executes it.
type ApproveParams struct {
	SessionID string `json:"session_id"`
	TicketID  string `json:"ticket_id" validate:"required"`
}

// SessionParams names a session for history and clear calls.
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// AuditParams filters the audit journal.
type AuditParams struct {
	SessionID string `json:"session_id"`
	Verdict   string `json:"verdict"`
	Search    string `json:"search"`
	Limit     int    `json:"limit" validate:"gte=0"`
}

// PingResult answers a ping.
type PingResult struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version"`
}

// StatusResult summarizes the running daemon.
type StatusResult struct {
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	PendingCount   int    `json:"pending_count"`
	ActiveSessions int    `json:"active_sessions"`
	Engine         string `json:"engine,omitempty"`
}

// ExecResult wraps a gate outcome with the session that produced it.
type ExecResult struct {
	SessionID string        `json:"session_id"`
	Outcome   *core.Outcome `json:"outcome"`
}

// AskReply wraps an assisted exchange with the session that produced it.
type AskReply struct {
	SessionID string          `json:"session_id"`
	Ask       *core.AskResult `json:"ask"`
}

// PendingResult lists parked tickets oldest first.
type PendingResult struct {
	Tickets []*core.Ticket `json:"tickets"`
}

// HistoryResult is a session's conversation snapshot.
type HistoryResult struct {
	SessionID string       `json:"session_id"`
	Entries   []core.Entry `json:"entries"`
}

// ClearResult reports how many entries a clear removed.
type ClearResult struct {
	SessionID string `json:"session_id"`
	Cleared   int    `json:"cleared"`
}

// AuditResult lists journal entries newest first.
type AuditResult struct {
	Entries []*journal.Entry `json:"entries"`
	Counts  map[string]int   `json:"counts,omitempty"`
}

// validate is a package-level singleton; constructing a validator per call
// is expensive.
var validate = validator.New()

// decodeParams unmarshals raw params into dst and runs struct validation.
func decodeParams(raw json.RawMessage, dst any) *RPCError {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return &RPCError{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		}
	}
	if err := validate.Struct(dst); err != nil {
		return &RPCError{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
