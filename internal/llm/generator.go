// Package llm is the code-generation boundary: one prompt in, one text
// response out.
package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Roles select per-caller model overrides.
const (
	RoleAnalyzer = "analyzer"
	RoleExecutor = "executor"
	RoleFix      = "fix"
)

// Request is a single generation call.
type Request struct {
	System string
	User   string
	// Model overrides the configured default when non-empty.
	Model string
	Role  string
}

// Generator produces text for a prompt.
// Implementations must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DumpDiagnostics writes content to <dir>/<timestamp>_<label>.txt for later
// inspection and returns the path. The directory is created if needed.
func DumpDiagnostics(dir, label, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.txt", time.Now().Format("20060102-150405.000"), unsafeLabel.ReplaceAllString(label, "_"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write diagnostics: %w", err)
	}
	return path, nil
}
