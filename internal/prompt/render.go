package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// Prompt names. Analyzer and executor prompts are suffixed with the ledger
// category, e.g. "analyze_refactoring".
const (
	SystemAnalyzer = "system_analyzer"
	SystemExecutor = "system_executor"
	SystemFix      = "system_fix"
	Fix            = "fix"
)

// AnalyzerPrompt returns the analyzer prompt name for a category.
func AnalyzerPrompt(category string) string {
	return "analyze_" + category
}

// ExecutorPrompt returns the executor prompt name for a category.
func ExecutorPrompt(category string) string {
	return "execute_" + category
}

// Renderer executes resolved prompts as text/template documents.
type Renderer struct {
	resolver *Resolver
	funcs    template.FuncMap
}

// NewRenderer creates a Renderer backed by resolver.
func NewRenderer(resolver *Resolver) *Renderer {
	return &Renderer{
		resolver: resolver,
		funcs: template.FuncMap{
			"join":  strings.Join,
			"upper": strings.ToUpper,
			"trim":  strings.TrimSpace,
		},
	}
}

// Render resolves name and executes it with data. A prompt that cannot be
// found is a fatal PROMPT_MISSING error.
func (r *Renderer) Render(name string, data any) (string, error) {
	resolved, err := r.resolver.Resolve(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", mendErrors.ErrPromptMissing(name, r.resolver.ProjectDir()).WithCause(err)
		}
		return "", err
	}

	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(resolved.Content)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s (%s): %w", name, resolved.Source, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt %s (%s): %w", name, resolved.Source, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// Require checks that every named prompt resolves from some source.
func (r *Renderer) Require(names []string) error {
	for _, name := range names {
		if _, err := r.resolver.Resolve(name); err != nil {
			if errors.Is(err, ErrNotFound) {
				return mendErrors.ErrPromptMissing(name, r.resolver.ProjectDir())
			}
			return err
		}
	}
	return nil
}
