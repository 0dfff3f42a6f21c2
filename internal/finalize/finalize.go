// Package finalize commits the last successful execution recorded by the
// executor and, optionally, publishes it as a pull request.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/git"
	"github.com/randalmurphal/mend/internal/hosting"
	"github.com/randalmurphal/mend/internal/ledger"
)

// VCS is the git surface finalize needs. *git.Git implements it.
type VCS interface {
	CreateCheckpoint(ctx context.Context, itemID, phase, message string, files []string) (*git.Checkpoint, error)
	CreateBranch(ctx context.Context, name string) error
	Push(ctx context.Context, remote, branch string, setUpstream bool) error
	RemoteURL(ctx context.Context, remote string) (string, error)
}

// ProviderFactory builds the hosting provider for a remote URL.
type ProviderFactory func(remoteURL string) (hosting.Provider, error)

// phaseCategories maps workflow phases to the ledger whose commit label
// they use.
var phaseCategories = map[string]ledger.Category{
	"refactor":    ledger.Refactoring,
	"refactoring": ledger.Refactoring,
	"performance": ledger.Performance,
	"cleanup":     ledger.Clippy,
	"clippy":      ledger.Clippy,
	"feature":     ledger.Features,
	"features":    ledger.Features,
}

// LabelForPhase returns the commit label for a phase name.
func LabelForPhase(phase string) string {
	if c, ok := phaseCategories[phase]; ok {
		return c.CommitLabel()
	}
	return ledger.Category(phase).CommitLabel()
}

// MessageFor builds the checkpoint subject for a change record.
func MessageFor(rec *apply.ChangeRecord) string {
	return git.CommitMessage(LabelForPhase(rec.Phase), rec.ItemID, rec.Title)
}

// Options selects what Finalize does beyond committing.
type Options struct {
	// Message replaces the generated commit subject when non-empty.
	Message string
	// PR commits on a fresh branch, pushes it and opens a pull request.
	PR bool
}

// Result reports what was committed and published.
type Result struct {
	Record  *apply.ChangeRecord
	Message string
	SHA     string
	Branch  string
	PRURL   string
}

// Finalizer turns the change record into a commit.
type Finalizer struct {
	root        string
	vcs         VCS
	git         config.GitConfig
	hosting     config.HostingConfig
	newProvider ProviderFactory
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = l
	}
}

// WithProviderFactory replaces hosting provider construction.
func WithProviderFactory(fn ProviderFactory) Option {
	return func(f *Finalizer) {
		f.newProvider = fn
	}
}

// WithClock overrides the clock used for branch names.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		f.now = now
	}
}

// New creates a Finalizer for the repository at root.
func New(root string, vcs VCS, cfg *config.Config, opts ...Option) *Finalizer {
	f := &Finalizer{
		root:    root,
		vcs:     vcs,
		git:     cfg.Git,
		hosting: cfg.Hosting,
		now:     time.Now,
		logger:  slog.Default(),
	}
	hc := hosting.FromConfig(cfg.Hosting)
	f.newProvider = func(remoteURL string) (hosting.Provider, error) {
		return hosting.NewProvider(remoteURL, hc)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize commits exactly the files in the change record and clears it.
// With opts.PR the commit goes on a new branch that is pushed and opened
// as a pull request against the configured base branch.
func (f *Finalizer) Finalize(ctx context.Context, opts Options) (*Result, error) {
	rec, err := apply.LoadChange(f.root)
	if err != nil {
		return nil, err
	}
	if len(rec.Files) == 0 {
		if err := apply.ClearChange(f.root); err != nil {
			return nil, err
		}
		return nil, mendErrors.ErrNoChangeRecord().WithCause(fmt.Errorf("record for %s lists no files", rec.ItemID))
	}

	res := &Result{Record: rec, Message: MessageFor(rec)}
	if msg := strings.TrimSpace(opts.Message); msg != "" {
		res.Message = msg
	}
	logger := f.logger.With("item", rec.ItemID, "phase", rec.Phase)

	if opts.PR {
		res.Branch = f.git.BranchPrefix + f.now().Format("20060102-150405")
		if err := f.vcs.CreateBranch(ctx, res.Branch); err != nil {
			return nil, err
		}
	}

	cp, err := f.vcs.CreateCheckpoint(ctx, rec.ItemID, rec.Phase, res.Message, rec.Files)
	if err != nil {
		return nil, err
	}
	res.SHA = cp.CommitSHA
	if err := apply.ClearChange(f.root); err != nil {
		return res, err
	}
	logger.Info("committed change", "sha", res.SHA, "files", len(rec.Files))

	if !opts.PR {
		return res, nil
	}

	if err := f.vcs.Push(ctx, f.git.Remote, res.Branch, true); err != nil {
		return res, err
	}
	url, err := f.openPR(ctx, rec, res)
	if err != nil {
		return res, err
	}
	res.PRURL = url
	logger.Info("opened pull request", "url", url, "branch", res.Branch)
	return res, nil
}

func (f *Finalizer) openPR(ctx context.Context, rec *apply.ChangeRecord, res *Result) (string, error) {
	remoteURL, err := f.vcs.RemoteURL(ctx, f.git.Remote)
	if err != nil {
		return "", err
	}
	provider, err := f.newProvider(remoteURL)
	if err != nil {
		return "", err
	}
	pr, err := provider.CreatePR(ctx, hosting.PRCreateOptions{
		Title:  res.Message,
		Body:   prBody(rec),
		Head:   res.Branch,
		Base:   f.git.BaseBranch,
		Draft:  f.hosting.Draft,
		Labels: f.hosting.Labels,
	})
	if err != nil {
		return "", mendErrors.ErrHostingFailed("create pull request", err)
	}
	return pr.HTMLURL, nil
}

func prBody(rec *apply.ChangeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated %s change for work item %s.\n\n", rec.Phase, rec.ItemID)
	fmt.Fprintf(&b, "**%s**\n\n", rec.Title)
	b.WriteString("Files changed:\n")
	for _, f := range rec.Files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\nThe change passed the project's build, test and lint commands before it was committed.\n")
	return b.String()
}
