// Package gitlab implements hosting.Provider with the GitLab API client.
package gitlab

import (
	"context"
	"fmt"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/mend/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitLab, newProvider)
}

// Provider opens merge requests on gitlab.com or a self-hosted instance.
type Provider struct {
	client    *gogitlab.Client
	projectID string // "owner/repo" path used as project identifier
	owner     string
	repo      string
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	token, err := hosting.Token(cfg, "GITLAB_TOKEN", "GITLAB_PRIVATE_TOKEN")
	if err != nil {
		return nil, err
	}
	return New(hosting.ParseRemote(remoteURL), token, cfg.BaseURL)
}

// New creates a Provider for remote. baseURL selects a self-hosted
// instance; empty means gitlab.com.
func New(remote hosting.Remote, token, baseURL string) (*Provider, error) {
	if remote.Owner == "" || remote.Repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote %q", remote.FullPath())
	}

	var opts []gogitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	client, err := gogitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return &Provider{
		client:    client,
		projectID: remote.FullPath(),
		owner:     remote.Owner,
		repo:      remote.Repo,
	}, nil
}

// Name returns the provider type.
func (g *Provider) Name() hosting.ProviderType {
	return hosting.ProviderGitLab
}

// OwnerRepo returns the owner and repository name.
// For nested GitLab groups, owner may be "group/subgroup".
func (g *Provider) OwnerRepo() (string, string) {
	return g.owner, g.repo
}

// CheckAuth validates the token by fetching the authenticated user.
func (g *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := g.client.Users.CurrentUser(gogitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

// CreatePR creates a merge request. Drafts use GitLab's "Draft:" title
// prefix.
func (g *Provider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	title := opts.Title
	if opts.Draft {
		title = "Draft: " + title
	}

	createOpts := &gogitlab.CreateMergeRequestOptions{
		Title:              gogitlab.Ptr(title),
		Description:        gogitlab.Ptr(opts.Body),
		SourceBranch:       gogitlab.Ptr(opts.Head),
		TargetBranch:       gogitlab.Ptr(opts.Base),
		RemoveSourceBranch: gogitlab.Ptr(true),
	}
	if len(opts.Labels) > 0 {
		labels := gogitlab.LabelOptions(opts.Labels)
		createOpts.Labels = &labels
	}

	mr, _, err := g.client.MergeRequests.CreateMergeRequest(g.projectID, createOpts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create MR: %w", err)
	}
	return &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		HTMLURL:    mr.WebURL,
		Draft:      mr.Draft,
	}, nil
}

// FindPRByBranch finds an open merge request for a given source branch.
func (g *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(g.projectID, &gogitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gogitlab.Ptr(branch),
		State:        gogitlab.Ptr("opened"),
		ListOptions:  gogitlab.ListOptions{PerPage: 1},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("find MR by branch %q: %w", branch, err)
	}
	if len(mrs) == 0 {
		return nil, hosting.ErrNoPRFound
	}

	mr := mrs[0]
	return &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		HTMLURL:    mr.WebURL,
		Draft:      mr.Draft,
	}, nil
}

func mapState(s string) string {
	if s == "opened" {
		return "open"
	}
	return s
}
