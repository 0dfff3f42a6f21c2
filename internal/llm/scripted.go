package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a Generator that replays canned responses in order.
// It records every request so callers can assert on prompts and call counts.
type Scripted struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	calls     []Request
}

// ScriptedResponse is one canned reply.
type ScriptedResponse struct {
	Text string
	Err  error
}

// NewScripted returns a generator that answers with texts in order.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.responses = append(s.responses, ScriptedResponse{Text: t})
	}
	return s
}

// Push appends a response.
func (s *Scripted) Push(r ScriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
}

// Generate returns the next canned response, or an error once exhausted.
func (s *Scripted) Generate(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("scripted generator: no response left for call %d", len(s.calls))
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.Text, r.Err
}

// Calls returns the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns the number of Generate calls.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
