// Package gitlab mirrors increments to GitLab issues.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/incsync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*Provider)(nil)

func init() {
	tracker.RegisterProvider(tracker.GitLab, newProvider)
}

// Provider implements tracker.Provider using the GitLab client-go library.
type Provider struct {
	client *gogitlab.Client
	// projectID is the full path, "group/repo" or "group/subgroup/repo"
	projectID string
}

func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	owner, repo := tracker.ParseRepo(cfg.Repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("gitlab tracker needs repo as group/project, got %q", cfg.Repo)
	}

	// Retries are driven by the sync layer so failures stay classifiable.
	opts := []gogitlab.ClientOptionFunc{gogitlab.WithoutRetries()}
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		opts = append(opts, gogitlab.WithBaseURL(baseURL+"/api/v4"))
	}
	client, err := gogitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return New(client, owner+"/"+repo), nil
}

// New wraps an existing client for the project at projectID.
func New(client *gogitlab.Client, projectID string) *Provider {
	return &Provider{client: client, projectID: projectID}
}

// Name returns the tracker type.
func (g *Provider) Name() tracker.Type {
	return tracker.GitLab
}

// CreateOrUpdateIssue opens an issue, or edits the existing one in place.
// Labels are added, never replaced.
func (g *Provider) CreateOrUpdateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.IssueRef, error) {
	if req.ExistingID != "" {
		iid, err := issueIID(req.ExistingID)
		if err != nil {
			return nil, err
		}
		opts := &gogitlab.UpdateIssueOptions{
			Title:       gogitlab.Ptr(req.Title),
			Description: gogitlab.Ptr(req.Body),
		}
		if len(req.Labels) > 0 {
			opts.AddLabels = labelOptions(req.Labels)
		}
		issue, resp, err := g.client.Issues.UpdateIssue(g.projectID, iid, opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, tracker.WrapResponse("update issue", httpResponse(resp), err)
		}
		return ref(issue, false), nil
	}

	opts := &gogitlab.CreateIssueOptions{
		Title:       gogitlab.Ptr(req.Title),
		Description: gogitlab.Ptr(req.Body),
	}
	if len(req.Labels) > 0 {
		opts.Labels = labelOptions(req.Labels)
	}
	issue, resp, err := g.client.Issues.CreateIssue(g.projectID, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, tracker.WrapResponse("create issue", httpResponse(resp), err)
	}
	return ref(issue, true), nil
}

// AddComment adds a note to the issue.
func (g *Provider) AddComment(ctx context.Context, issueID, body string) error {
	iid, err := issueIID(issueID)
	if err != nil {
		return err
	}
	_, resp, err := g.client.Notes.CreateIssueNote(g.projectID, iid, &gogitlab.CreateIssueNoteOptions{
		Body: gogitlab.Ptr(body),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return tracker.WrapResponse("add note", httpResponse(resp), err)
	}
	return nil
}

// AddLabels adds labels to the issue.
func (g *Provider) AddLabels(ctx context.Context, issueID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	iid, err := issueIID(issueID)
	if err != nil {
		return err
	}
	_, resp, err := g.client.Issues.UpdateIssue(g.projectID, iid, &gogitlab.UpdateIssueOptions{
		AddLabels: labelOptions(labels),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return tracker.WrapResponse("add labels", httpResponse(resp), err)
	}
	return nil
}

func labelOptions(labels []string) *gogitlab.LabelOptions {
	lo := gogitlab.LabelOptions(labels)
	return &lo
}

func ref(issue *gogitlab.Issue, created bool) *tracker.IssueRef {
	return &tracker.IssueRef{
		ID:      strconv.FormatInt(issue.IID, 10),
		URL:     issue.WebURL,
		Created: created,
	}
}

func issueIID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: gitlab issue iid %q", tracker.ErrInvalidIssueID, id)
	}
	return n, nil
}

func httpResponse(resp *gogitlab.Response) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.Response
}
