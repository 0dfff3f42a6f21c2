package gate

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
)

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// WithTimeout bounds each step.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithFixer enables the repair loop. Without it EnsureBuildsOrFix only
// validates.
func WithFixer(gen llm.Generator, renderer *prompt.Renderer) Option {
	return func(g *Gate) {
		g.gen = gen
		g.renderer = renderer
	}
}

// WithProject sets the project description used in the fix prompt.
func WithProject(description string) Option {
	return func(g *Gate) {
		if description != "" {
			g.project = description
		}
	}
}

// WithDiagnosticsDir sets where unusable fix responses are dumped.
func WithDiagnosticsDir(dir string) Option {
	return func(g *Gate) {
		g.diagDir = dir
	}
}

// WithOutputLimit caps the failing step output sent to the generator.
func WithOutputLimit(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxOutput = n
		}
	}
}
