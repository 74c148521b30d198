// Package tracker provides a unified interface for external issue trackers
// (GitHub, GitLab, Jira) that increments are mirrored to.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Type identifies which tracker is in use.
type Type string

const (
	GitHub Type = "github"
	GitLab Type = "gitlab"
	Jira   Type = "jira"
)

// Provider is the interface for issue trackers.
// Implementations exist for GitHub (go-github), GitLab (client-go) and Jira
// (go-atlassian). Errors carry enough detail for retry classification: an
// *APIError with the HTTP status, or the client library's own error type.
type Provider interface {
	Name() Type

	// CreateOrUpdateIssue creates an issue, or edits req.ExistingID when set.
	CreateOrUpdateIssue(ctx context.Context, req IssueRequest) (*IssueRef, error)
	AddComment(ctx context.Context, issueID, body string) error
	AddLabels(ctx context.Context, issueID string, labels []string) error
}

// IssueRequest describes the issue mirroring one increment.
type IssueRequest struct {
	IncrementID string   `json:"increment_id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Labels      []string `json:"labels,omitempty"`

	// ExistingID is the tracker's issue identifier from a previous sync
	// (GitHub/GitLab issue number, Jira issue key).
	ExistingID string `json:"existing_id,omitempty"`
}

// IssueRef identifies an issue on the tracker.
type IssueRef struct {
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Created bool   `json:"created"`
}

// Config holds tracker configuration.
type Config struct {
	// Provider type: "github", "gitlab" or "jira".
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" validate:"required,oneof=github gitlab jira"`

	// BaseURL for self-hosted instances (e.g., "https://gitlab.company.com").
	// Required for Jira; leave empty for github.com / gitlab.com.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url,omitempty" validate:"omitempty,url"`

	// TokenEnvVar overrides the default token environment variable name.
	// Default: GITHUB_TOKEN, GITLAB_TOKEN or JIRA_API_TOKEN.
	TokenEnvVar string `yaml:"token_env_var" mapstructure:"token_env_var" json:"token_env_var,omitempty"`

	// Repo is "owner/repo" (GitHub) or the project path "group/sub/repo"
	// (GitLab). A git remote URL is accepted too.
	Repo string `yaml:"repo" mapstructure:"repo" json:"repo,omitempty"`

	// Project is the Jira project key.
	Project string `yaml:"project" mapstructure:"project" json:"project,omitempty"`

	// Email is the Jira account used for basic auth.
	Email string `yaml:"email" mapstructure:"email" json:"email,omitempty" validate:"omitempty,email"`

	// IssueType is the Jira issue type for new issues. Default: Task.
	IssueType string `yaml:"issue_type" mapstructure:"issue_type" json:"issue_type,omitempty"`
}

// NewProviderFunc is a constructor function for creating a tracker provider.
// The adapter packages register theirs at init time so this package does not
// import them.
type NewProviderFunc func(cfg Config) (Provider, error)

var providerConstructors = map[Type]NewProviderFunc{}

// RegisterProvider registers a provider constructor.
// Called from init() in the adapter packages (github/, gitlab/, jira/).
func RegisterProvider(t Type, constructor NewProviderFunc) {
	providerConstructors[t] = constructor
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	t := Type(strings.ToLower(strings.TrimSpace(cfg.Provider)))
	if t == "" {
		return nil, fmt.Errorf("tracker provider is not set (supported: github, gitlab, jira)")
	}
	constructor, ok := providerConstructors[t]
	if !ok {
		return nil, fmt.Errorf("no tracker registered for %q (registered: %v)", t, Registered())
	}
	return constructor(cfg)
}

// Registered lists the registered tracker types in name order.
func Registered() []Type {
	types := make([]Type, 0, len(providerConstructors))
	for t := range providerConstructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseRepo splits "owner/repo" or a git remote URL into owner and repo.
// For nested GitLab groups the owner is "group/subgroup".
func ParseRepo(s string) (owner, repo string) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimSuffix(raw, ".git")

	switch {
	case strings.HasPrefix(raw, "ssh://"):
		raw = strings.TrimPrefix(raw, "ssh://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = strings.TrimLeft(raw[idx+1:], "/")
		}
	case strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(raw, "https://")
		raw = strings.TrimPrefix(raw, "http://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
		}
	default:
		// SCP-style: git@host:owner/repo
		if idx := strings.Index(raw, ":"); idx != -1 {
			raw = raw[idx+1:]
		}
	}

	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 2 {
		return raw, ""
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
}
