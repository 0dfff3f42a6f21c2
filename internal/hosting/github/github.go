// Package github implements hosting.Provider with go-github.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/randalmurphal/mend/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitHub, newProvider)
}

// Provider opens pull requests on GitHub or GitHub Enterprise.
type Provider struct {
	client *gogithub.Client
	owner  string
	repo   string
	logger *slog.Logger
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	token, err := hosting.Token(cfg, "GITHUB_TOKEN", "GH_TOKEN")
	if err != nil {
		return nil, err
	}
	return New(hosting.ParseRemote(remoteURL), token, cfg.BaseURL)
}

// New creates a Provider for remote. baseURL selects a GitHub Enterprise
// instance; empty means github.com.
func New(remote hosting.Remote, token, baseURL string) (*Provider, error) {
	if remote.Owner == "" || remote.Repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote %q", remote.FullPath())
	}

	client := gogithub.NewClient(nil).WithAuthToken(token)
	if baseURL != "" {
		base := strings.TrimSuffix(baseURL, "/")
		var err error
		client, err = client.WithEnterpriseURLs(base+"/api/v3/", base+"/api/uploads/")
		if err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", baseURL, err)
		}
	}

	return &Provider{
		client: client,
		owner:  remote.Owner,
		repo:   remote.Repo,
		logger: slog.Default(),
	}, nil
}

// Name returns the provider type.
func (g *Provider) Name() hosting.ProviderType {
	return hosting.ProviderGitHub
}

// OwnerRepo returns the owner and repository name.
func (g *Provider) OwnerRepo() (string, string) {
	return g.owner, g.repo
}

// CheckAuth validates the token by fetching the authenticated user.
func (g *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := g.client.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

// CreatePR creates a pull request. Labels are best-effort.
func (g *Provider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(opts.Base),
		Draft: gogithub.Ptr(opts.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}

	if len(opts.Labels) > 0 {
		if _, _, labelErr := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, created.GetNumber(), opts.Labels); labelErr != nil {
			g.logger.Warn("failed to add labels to PR",
				"pr", created.GetNumber(),
				"labels", opts.Labels,
				"error", labelErr)
		}
	}
	return mapPR(created), nil
}

// FindPRByBranch finds the open PR whose head is branch.
func (g *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gogithub.PullRequestListOptions{
		Head:        g.owner + ":" + branch,
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("find PR by branch %q: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	return mapPR(prs[0]), nil
}

func mapPR(pr *gogithub.PullRequest) *hosting.PR {
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	return &hosting.PR{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		State:      state,
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
		Draft:      pr.GetDraft(),
	}
}
