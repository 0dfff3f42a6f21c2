package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestMendErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *MendError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &MendError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &MendError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &MendError{
				What: "something broke",
				Why:  "bad input",
				Fix:  "try again",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again",
		},
		{
			name: "with cause",
			err: &MendError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitStep},
		{"missing config", ErrConfigMissing("model.name"), ExitFatal},
		{"generator unavailable", ErrGeneratorUnavailable("OPENAI_API_KEY is not set"), ExitFatal},
		{"prompt missing", ErrPromptMissing("fix", ".mend/prompts"), ExitFatal},
		{"item not found", ErrItemNotFound("refactoring", "REF-001"), ExitStep},
		{"workflow done", ErrWorkflowDone(), ExitComplete},
		{"already running", ErrAlreadyRunning("me@host", 42), ExitBusy},
		{"wrapped fatal", fmt.Errorf("startup: %w", ErrConfigInvalid("model", "bad")), ExitFatal},
		{"unknown code", Wrap(errors.New("x"), "y"), ExitStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMendErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrItemNotFound("features", "FEAT-002"))
	if !errors.Is(err, &MendError{Code: CodeItemNotFound}) {
		t.Error("errors.Is should match on code through wrapping")
	}
	if errors.Is(err, &MendError{Code: CodeGitFailed}) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestAsMendError(t *testing.T) {
	base := ErrGitFailed("commit", errors.New("exit status 1"))
	wrapped := fmt.Errorf("checkpoint: %w", base)

	got := AsMendError(wrapped)
	if got == nil {
		t.Fatal("AsMendError returned nil for wrapped MendError")
	}
	if got.Code != CodeGitFailed {
		t.Errorf("Code = %s, want %s", got.Code, CodeGitFailed)
	}
	if AsMendError(errors.New("plain")) != nil {
		t.Error("AsMendError should return nil for plain errors")
	}
}

func TestWithCausePreservesFields(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrGeneratorUnavailable("backend down").WithCause(cause)

	if err.Code != CodeGeneratorUnavailable {
		t.Errorf("Code = %s", err.Code)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via errors.Is")
	}
	if !err.IsFatal() {
		t.Error("generator unavailable should be fatal")
	}
}

func TestMarshalJSONIncludesCause(t *testing.T) {
	err := ErrHostingFailed("create PR", errors.New("401 Unauthorized"))
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}

	var decoded map[string]any
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if decoded["code"] != string(CodeHostingFailed) {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["cause"] != "401 Unauthorized" {
		t.Errorf("cause = %v", decoded["cause"])
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped fatal", fmt.Errorf("load: %w", ErrConfigInvalid("model.provider", "unknown")), true},
		{"item scoped", ErrItemNotFound("refactoring", "REF-001"), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}
