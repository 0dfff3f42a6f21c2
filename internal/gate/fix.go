package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/llmutil"
	"github.com/randalmurphal/mend/internal/prompt"
)

// maxImplicatedFiles bounds how many files named in the failure output are
// attached to the fix prompt.
const maxImplicatedFiles = 8

// fixData is the fix prompt's template data.
type fixData struct {
	Project string
	Stage   string
	Step    string
	Output  string
	Context string
}

// EnsureBuildsOrFix validates the tree and, while it is red, asks the
// generator for corrected files up to maxAttempts times (negative means
// DefaultFixAttempts). It returns true on the first green validation and
// false once attempts run out. A green tree returns immediately without
// generating. Files the repair loop writes are reported by Fixed.
func (g *Gate) EnsureBuildsOrFix(ctx context.Context, stage string, maxAttempts int) bool {
	logger := g.logger.With("stage", stage)

	report, ok := g.RunValidation(ctx)
	if ok {
		logger.Info("validation passed")
		return true
	}
	if maxAttempts < 0 {
		maxAttempts = DefaultFixAttempts
	}
	if g.gen == nil || g.renderer == nil {
		logger.Warn("validation failed and no fixer is configured", "summary", report.Summary())
		return false
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			logger.Warn("repair cancelled", "error", ctx.Err())
			return false
		}
		logger.Info("attempting repair", "attempt", attempt, "max_attempts", maxAttempts, "step", report.Failed.Name)

		files, err := g.attemptFix(ctx, stage, attempt, report.Failed)
		if err != nil {
			logger.Warn("repair attempt produced no change", "attempt", attempt, "error", err)
			continue
		}
		logger.Info("repair applied", "attempt", attempt, "files", files)

		report, ok = g.RunValidation(ctx)
		if ok {
			logger.Info("validation passed after repair", "attempt", attempt)
			return true
		}
	}

	logger.Warn("repair attempts exhausted", "summary", report.Summary())
	return false
}

// attemptFix runs one generation and applies its usable file blocks.
func (g *Gate) attemptFix(ctx context.Context, stage string, attempt int, failed *StepResult) ([]string, error) {
	data := fixData{
		Project: g.project,
		Stage:   stage,
		Step:    failed.Name,
		Output:  clip(failureText(failed), g.maxOutput),
		Context: g.implicatedFiles(failed.Output),
	}
	system, err := g.renderer.Render(prompt.SystemFix, data)
	if err != nil {
		return nil, err
	}
	user, err := g.renderer.Render(prompt.Fix, data)
	if err != nil {
		return nil, err
	}

	response, err := g.gen.Generate(ctx, llm.Request{System: system, User: user, Role: llm.RoleFix})
	if err != nil {
		return nil, fmt.Errorf("generate fix: %w", err)
	}

	res, err := apply.ApplyBlocks(g.fixes, llmutil.ExtractFileBlocks(response))
	if err != nil {
		g.dump(fmt.Sprintf("fix_%s_attempt%d", stage, attempt), response)
		return nil, err
	}
	if res.NoOp {
		return nil, fmt.Errorf("fix repeated the current files unchanged")
	}
	for _, r := range res.Rejected {
		g.logger.Warn("rejected fix block", "file", r.Path, "reason", r.Reason)
	}
	return res.Files, nil
}

func (g *Gate) dump(label, content string) {
	if g.diagDir == "" {
		return
	}
	if path, err := llm.DumpDiagnostics(g.diagDir, label, content); err != nil {
		g.logger.Warn("could not save fix response", "error", err)
	} else {
		g.logger.Info("saved unusable fix response", "path", path)
	}
}

func failureText(failed *StepResult) string {
	out := strings.TrimSpace(failed.Output)
	switch {
	case failed.TimedOut:
		return "The step timed out.\n" + out
	case failed.Err != nil && out == "":
		return failed.Err.Error()
	}
	return out
}

// clip keeps the head and tail of long output. Compilers report the first
// error first and summaries last.
func clip(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	head := limit * 2 / 3
	tail := limit - head
	return s[:head] + fmt.Sprintf("\n[%d bytes omitted]\n", len(s)-limit) + s[len(s)-tail:]
}

var locationRe = regexp.MustCompile(`([A-Za-z0-9_][A-Za-z0-9_./-]*\.[A-Za-z0-9]+):\d+`)

// implicatedFiles returns the content of files the failure output points
// at, in order of first mention.
func (g *Gate) implicatedFiles(output string) string {
	var b strings.Builder
	seen := map[string]bool{}
	count := 0
	for _, m := range locationRe.FindAllStringSubmatch(output, -1) {
		if count >= maxImplicatedFiles {
			break
		}
		path := strings.TrimPrefix(m[1], "./")
		if seen[path] || !llmutil.IsPlausiblePath(path) {
			continue
		}
		seen[path] = true
		content, exists, err := g.fixes.Read(path)
		if err != nil || !exists {
			continue
		}
		section := fmt.Sprintf("// ========== FILE: %s ==========\n%s\n", path, content)
		if b.Len()+len(section) > g.maxContext {
			break
		}
		b.WriteString(section)
		count++
	}
	return b.String()
}
