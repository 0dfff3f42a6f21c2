package toolchain

import (
	"context"
	"sync"
)

// ScriptedRunner answers commands from a handler instead of spawning
// processes. It records every command it receives.
type ScriptedRunner struct {
	mu      sync.Mutex
	handler func(cmd Command) *Result
	calls   []Command
}

// NewScriptedRunner returns a runner that delegates to fn. A nil fn makes
// every command succeed with empty output.
func NewScriptedRunner(fn func(cmd Command) *Result) *ScriptedRunner {
	return &ScriptedRunner{handler: fn}
}

// SetHandler replaces the handler.
func (s *ScriptedRunner) SetHandler(fn func(cmd Command) *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Run records cmd and returns the handler's result.
func (s *ScriptedRunner) Run(ctx context.Context, cmd Command) *Result {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	fn := s.handler
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &Result{Name: cmd.Name, ExitCode: -1, Err: err}
	}
	if fn == nil {
		return Pass(cmd)
	}
	res := fn(cmd)
	if res == nil {
		return Pass(cmd)
	}
	if res.Name == "" {
		res.Name = cmd.Name
	}
	return res
}

// Calls returns the recorded commands.
func (s *ScriptedRunner) Calls() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.calls...)
}

// CallCount returns how many commands ran.
func (s *ScriptedRunner) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Pass is a successful result for cmd.
func Pass(cmd Command) *Result {
	return &Result{Name: cmd.Name}
}

// Fail is a failing result with stderr output.
func Fail(cmd Command, exitCode int, stderr string) *Result {
	return &Result{Name: cmd.Name, ExitCode: exitCode, Stderr: stderr}
}
