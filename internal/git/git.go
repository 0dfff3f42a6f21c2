// Package git wraps the git plumbing mend needs: staging, committing,
// change detection, diff statistics, branching and pushing.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/randalmurphal/mend/internal/diff"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// Git runs git commands in one working tree.
type Git struct {
	workDir string
	runner  CommandRunner
	logger  *slog.Logger
}

// Option configures a Git.
type Option func(*Git)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(g *Git) {
		g.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Git) {
		g.logger = l
	}
}

// New creates a Git for workDir.
func New(workDir string, opts ...Option) *Git {
	g := &Git{
		workDir: workDir,
		runner:  NewExecRunner(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WorkDir returns the repository root.
func (g *Git) WorkDir() string {
	return g.workDir
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, g.workDir, "git", args...)
	if err != nil {
		op := "command"
		if len(args) > 0 {
			op = args[0]
		}
		return out, mendErrors.ErrGitFailed(op, err)
	}
	return out, nil
}

// IsRepo reports whether workDir is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.runner.Run(ctx, g.workDir, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Add stages the given paths. Deleted paths are staged as removals.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// AddAll stages every change in the work tree.
func (g *Git) AddAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// Commit commits the index and returns the new HEAD SHA.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.HeadSHA(ctx)
}

// HeadSHA returns the full SHA of HEAD.
func (g *Git) HeadSHA(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasHead reports whether the repository has at least one commit.
func (g *Git) HasHead(ctx context.Context) bool {
	_, err := g.runner.Run(ctx, g.workDir, "git", "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// DiffNameOnly lists tracked files that differ from HEAD (staged or not).
// In a repository without commits every staged path is listed.
func (g *Git) DiffNameOnly(ctx context.Context) ([]string, error) {
	var out string
	var err error
	if g.HasHead(ctx) {
		out, err = g.run(ctx, "diff", "--name-only", "HEAD")
	} else {
		out, err = g.run(ctx, "diff", "--name-only", "--cached")
	}
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Untracked lists untracked files that are not ignored.
func (g *Git) Untracked(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// ChangedFiles returns the sorted union of DiffNameOnly and Untracked.
func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	tracked, err := g.DiffNameOnly(ctx)
	if err != nil {
		return nil, err
	}
	untracked, err := g.Untracked(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(tracked)+len(untracked))
	var files []string
	for _, f := range append(tracked, untracked...) {
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CommitStats returns the --stat summary of a single commit. Works for root
// commits, which have no parent to diff against.
func (g *Git) CommitStats(ctx context.Context, rev string) (diff.Stats, error) {
	out, err := g.run(ctx, "show", "--stat", "--format=", rev)
	if err != nil {
		return diff.Stats{}, err
	}
	return diff.ParseStats(out), nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateBranch creates and checks out a new branch from HEAD.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	if _, err := g.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	g.logger.Info("created branch", "branch", name)
	return nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", name)
	return err
}

// RestoreFiles discards work-tree changes to tracked paths.
func (g *Git) RestoreFiles(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"checkout", "HEAD", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// Push pushes branch to remote.
func (g *Git) Push(ctx context.Context, remote, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	if _, err := g.run(ctx, args...); err != nil {
		return err
	}
	g.logger.Info("pushed branch", "remote", remote, "branch", branch)
	return nil
}

// RemoteURL returns the fetch URL of remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ApplyPatch applies a unified diff to the work tree (not the index).
// --check runs first so a rejected patch leaves the tree untouched. Hunk
// line counts are recomputed from the hunk bodies, since generated patches
// often get them wrong.
func (g *Git) ApplyPatch(ctx context.Context, patchFile string) error {
	args := []string{"apply", "--recount", "--whitespace=nowarn"}
	if _, err := g.run(ctx, append(append([]string{}, args...), "--check", patchFile)...); err != nil {
		return err
	}
	_, err := g.run(ctx, append(args, patchFile)...)
	return err
}

func splitLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
