package hosting

import (
	"regexp"
	"strings"
)

// Remote is a parsed git remote URL.
type Remote struct {
	Host  string
	Owner string // may be "group/subgroup" on GitLab
	Repo  string
}

// FullPath returns "owner/repo".
func (r Remote) FullPath() string {
	if r.Owner == "" {
		return r.Repo
	}
	return r.Owner + "/" + r.Repo
}

// ParseRemote splits a remote URL into host, owner and repository.
//
// Handles:
//   - git@github.com:owner/repo.git
//   - https://github.com/owner/repo.git
//   - ssh://git@github.com:22/owner/repo.git
//   - git@gitlab.com:group/subgroup/repo.git (owner "group/subgroup")
func ParseRemote(remoteURL string) Remote {
	raw := strings.TrimSuffix(strings.TrimSpace(remoteURL), "/")
	raw = strings.TrimSuffix(raw, ".git")

	var host, path string
	switch {
	case strings.Contains(raw, "://"):
		rest := raw[strings.Index(raw, "://")+3:]
		host, path, _ = strings.Cut(rest, "/")
		if at := strings.LastIndex(host, "@"); at != -1 {
			host = host[at+1:]
		}
		if colon := strings.Index(host, ":"); colon != -1 {
			host = host[:colon]
		}
	case strings.Contains(raw, ":"):
		host, path, _ = strings.Cut(raw, ":")
		if at := strings.LastIndex(host, "@"); at != -1 {
			host = host[at+1:]
		}
	default:
		path = raw
	}

	path = strings.Trim(path, "/")
	r := Remote{Host: strings.ToLower(host)}
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		r.Repo = path
		return r
	}
	r.Owner, r.Repo = path[:idx], path[idx+1:]
	return r
}

var (
	githubHost = regexp.MustCompile(`^(github\.com|github\.[a-z0-9-]+\.[a-z]+)$`)
	gitlabHost = regexp.MustCompile(`^(gitlab\.com|gitlab\.[a-z0-9-]+\.[a-z]+)$`)
)

// DetectProvider determines the hosting provider from a git remote URL.
// github.com and github.<company>.<tld> are GitHub; the gitlab equivalents
// are GitLab.
func DetectProvider(remoteURL string) ProviderType {
	host := ParseRemote(remoteURL).Host
	switch {
	case githubHost.MatchString(host):
		return ProviderGitHub
	case gitlabHost.MatchString(host):
		return ProviderGitLab
	default:
		return ProviderUnknown
	}
}
