package testutil

import (
	"context"
	"sync"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

// CompleteCall records a single completion request.
type CompleteCall struct {
	System   string
	Recent   string
	Question string
}

// StubEngine simulates a completion engine for testing. It records every
// call and returns canned output.
type StubEngine struct {
	mu sync.Mutex

	// RecordedCalls contains all completion requests received.
	RecordedCalls []CompleteCall

	// Reply is returned by Complete.
	Reply string

	// Err is returned by Complete when set.
	Err error

	// ReplyFunc allows dynamic replies based on the request.
	// If set, this is called instead of returning Reply.
	ReplyFunc func(system, recent, question string) (string, error)
}

var _ core.Completer = (*StubEngine)(nil)

// NewStubEngine creates a stub that answers every question with reply.
func NewStubEngine(reply string) *StubEngine {
	return &StubEngine{Reply: reply}
}

// NewFailingEngine creates a stub whose completions always fail.
func NewFailingEngine(err error) *StubEngine {
	return &StubEngine{Err: err}
}

// Complete records the call and returns the configured reply or error.
func (s *StubEngine) Complete(_ context.Context, system, recent, question string) (string, error) {
	s.mu.Lock()
	s.RecordedCalls = append(s.RecordedCalls, CompleteCall{System: system, Recent: recent, Question: question})
	fn := s.ReplyFunc
	reply, err := s.Reply, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(system, recent, question)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Calls returns a copy of the recorded completion requests.
func (s *StubEngine) Calls() []CompleteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompleteCall(nil), s.RecordedCalls...)
}
