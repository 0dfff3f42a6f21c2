// Package hosting opens pull requests (GitHub) and merge requests (GitLab)
// for branches that finalize pushes.
package hosting

import (
	"context"
	"errors"
)

// ProviderType identifies which hosting provider is in use.
type ProviderType string

const (
	ProviderGitHub  ProviderType = "github"
	ProviderGitLab  ProviderType = "gitlab"
	ProviderUnknown ProviderType = "unknown"
)

// ErrNoPRFound is returned when no PR/MR exists for the given branch.
var ErrNoPRFound = errors.New("no pull request found for branch")

// Provider is the slice of a hosting API that mend needs.
type Provider interface {
	CreatePR(ctx context.Context, opts PRCreateOptions) (*PR, error)
	FindPRByBranch(ctx context.Context, branch string) (*PR, error)
	CheckAuth(ctx context.Context) error
	Name() ProviderType
	OwnerRepo() (string, string)
}

// PR represents a pull request / merge request.
type PR struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"` // open, closed, merged
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
	HTMLURL    string `json:"html_url"`
	Draft      bool   `json:"draft"`
}

// PRCreateOptions for creating a PR / merge request.
type PRCreateOptions struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Head   string   `json:"head"` // Source branch
	Base   string   `json:"base"` // Target branch
	Draft  bool     `json:"draft"`
	Labels []string `json:"labels,omitempty"`
}
