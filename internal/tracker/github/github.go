// Package github mirrors increments to GitHub issues.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/randalmurphal/incsync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*Provider)(nil)

func init() {
	tracker.RegisterProvider(tracker.GitHub, newProvider)
}

// Provider implements tracker.Provider using the go-github library.
type Provider struct {
	client *gogithub.Client
	owner  string
	repo   string
}

func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	owner, repo := tracker.ParseRepo(cfg.Repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github tracker needs repo as owner/repo, got %q", cfg.Repo)
	}

	httpClient := &http.Client{
		Transport: &bearerTransport{token: token},
		Timeout:   30 * time.Second,
	}
	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		client.BaseURL, err = client.BaseURL.Parse(baseURL + "/api/v3/")
		if err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
		}
	}

	return New(client, owner, repo), nil
}

// New wraps an existing go-github client.
func New(client *gogithub.Client, owner, repo string) *Provider {
	return &Provider{client: client, owner: owner, repo: repo}
}

// Name returns the tracker type.
func (p *Provider) Name() tracker.Type {
	return tracker.GitHub
}

// CreateOrUpdateIssue opens an issue, or edits the existing one in place.
func (p *Provider) CreateOrUpdateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.IssueRef, error) {
	issueReq := &gogithub.IssueRequest{
		Title: gogithub.Ptr(req.Title),
		Body:  gogithub.Ptr(req.Body),
	}

	if req.ExistingID != "" {
		number, err := issueNumber(req.ExistingID)
		if err != nil {
			return nil, err
		}
		issue, resp, err := p.client.Issues.Edit(ctx, p.owner, p.repo, number, issueReq)
		if err != nil {
			return nil, tracker.WrapResponse("edit issue", httpResponse(resp), err)
		}
		if len(req.Labels) > 0 {
			if err := p.AddLabels(ctx, req.ExistingID, req.Labels); err != nil {
				return nil, err
			}
		}
		return p.ref(issue, false), nil
	}

	if len(req.Labels) > 0 {
		issueReq.Labels = &req.Labels
	}
	issue, resp, err := p.client.Issues.Create(ctx, p.owner, p.repo, issueReq)
	if err != nil {
		return nil, tracker.WrapResponse("create issue", httpResponse(resp), err)
	}
	return p.ref(issue, true), nil
}

// AddComment posts a comment on the issue.
func (p *Provider) AddComment(ctx context.Context, issueID, body string) error {
	number, err := issueNumber(issueID)
	if err != nil {
		return err
	}
	_, resp, err := p.client.Issues.CreateComment(ctx, p.owner, p.repo, number, &gogithub.IssueComment{
		Body: gogithub.Ptr(body),
	})
	if err != nil {
		return tracker.WrapResponse("add comment", httpResponse(resp), err)
	}
	return nil
}

// AddLabels adds labels to the issue, keeping the ones already present.
func (p *Provider) AddLabels(ctx context.Context, issueID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	number, err := issueNumber(issueID)
	if err != nil {
		return err
	}
	_, resp, err := p.client.Issues.AddLabelsToIssue(ctx, p.owner, p.repo, number, labels)
	if err != nil {
		return tracker.WrapResponse("add labels", httpResponse(resp), err)
	}
	return nil
}

func (p *Provider) ref(issue *gogithub.Issue, created bool) *tracker.IssueRef {
	return &tracker.IssueRef{
		ID:      strconv.Itoa(issue.GetNumber()),
		URL:     issue.GetHTMLURL(),
		Created: created,
	}
}

func issueNumber(id string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: github issue number %q", tracker.ErrInvalidIssueID, id)
	}
	return n, nil
}

func httpResponse(resp *gogithub.Response) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.Response
}
