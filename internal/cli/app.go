package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/detect"
	"github.com/randalmurphal/mend/internal/git"
	"github.com/randalmurphal/mend/internal/journal"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/lock"
	"github.com/randalmurphal/mend/internal/orchestrator"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// app is the per-invocation environment shared by commands.
type app struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	closers []func()
}

// resolveRoot returns the absolute repository root from --repo.
func resolveRoot() (string, error) {
	dir := repoDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve repository path: %w", err)
	}
	return abs, nil
}

// loadApp loads configuration and sets up logging for a command.
func loadApp(cmd *cobra.Command) (*app, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoadOptions{RepoRoot: root, ConfigFile: cfgFile})
	if err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg, out: cmd.OutOrStdout()}
	opts := logOptions{
		level:   consoleLevel(cfg.Log.Level),
		json:    jsonOut,
		console: cmd.ErrOrStderr(),
	}
	if cfg.Log.File != "" {
		f, err := openLogFile(cfg.Log.FileIn(root))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		} else {
			opts.file = f
			a.closers = append(a.closers, func() { _ = f.Close() })
		}
	}
	a.logger = newLogger(opts)
	slog.SetDefault(a.logger)
	return a, nil
}

// Close releases files opened for the invocation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) ledgerOptions() ledger.Options {
	return ledger.Options{PruneCompleted: a.cfg.Ledger.PruneCompleted, Logger: a.logger}
}

func (a *app) git() *git.Git {
	return git.New(a.root, git.WithLogger(a.logger))
}

// project describes the repository for prompts.
func (a *app) project() string {
	d, err := detect.Detect(a.root)
	if err != nil {
		return "software"
	}
	return detect.DescribeProject(d)
}

// components builds the generator, prompts and toolchain runner. A missing
// credential or required prompt is fatal.
func (a *app) components() (orchestrator.Components, error) {
	gen, err := llm.NewOpenAIGenerator(a.cfg.Model, a.logger)
	if err != nil {
		return orchestrator.Components{}, err
	}
	renderer := prompt.NewRenderer(prompt.NewProjectResolver(a.root, a.cfg.Prompts.Dir))
	if err := renderer.Require(a.cfg.Prompts.Required); err != nil {
		return orchestrator.Components{}, err
	}
	return orchestrator.Components{
		Generator: gen,
		Renderer:  renderer,
		Runner:    toolchain.NewShellRunner(toolchain.WithLogger(a.logger)),
		Project:   a.project(),
	}, nil
}

// openJournal opens the run history, or returns nil when disabled or
// unavailable. The journal never blocks a run.
func (a *app) openJournal() *journal.Journal {
	if !a.cfg.Journal.Enabled {
		return nil
	}
	j, err := journal.Open(a.cfg.Journal.PathIn(a.root))
	if err != nil {
		a.logger.Warn("run journal unavailable", "error", err)
		return nil
	}
	a.closers = append(a.closers, func() { _ = j.Close() })
	return j
}

// withLock runs fn while holding the repository run lock.
func (a *app) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lk := lock.New(filepath.Join(a.root, config.MendDir))
	release, err := lk.Hold(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// runMutating loads the app, installs signal handling and runs fn under the
// run lock.
func runMutating(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := SetupSignalHandler()
	defer cancel()
	return a.withLock(ctx, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}
