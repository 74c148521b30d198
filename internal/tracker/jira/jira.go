// Package jira mirrors increments to Jira Cloud issues.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/randalmurphal/incsync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*Provider)(nil)

func init() {
	tracker.RegisterProvider(tracker.Jira, newProvider)
}

// DefaultIssueType is used when the config names none.
const DefaultIssueType = "Task"

// Provider implements tracker.Provider using the go-atlassian Jira v3 client.
type Provider struct {
	client    *v3.Client
	baseURL   string
	project   string
	issueType string
}

// Options configures New.
type Options struct {
	BaseURL   string
	Email     string
	Token     string
	Project   string
	IssueType string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}
	email := cfg.Email
	if email == "" {
		email = os.Getenv("JIRA_EMAIL")
	}
	return New(Options{
		BaseURL:   cfg.BaseURL,
		Email:     email,
		Token:     token,
		Project:   cfg.Project,
		IssueType: cfg.IssueType,
	})
}

// New creates a Jira provider with basic auth.
func New(opts Options) (*Provider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if opts.Email == "" {
		return nil, fmt.Errorf("jira email is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("jira API token is required")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("jira project key is required")
	}
	if opts.IssueType == "" {
		opts.IssueType = DefaultIssueType
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	client, err := v3.New(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(opts.Email, opts.Token)
	client.Auth.SetUserAgent("incsync/1.0")

	return &Provider{
		client:    client,
		baseURL:   baseURL,
		project:   opts.Project,
		issueType: opts.IssueType,
	}, nil
}

// resolveToken gets the Jira API token from environment.
// Uses cfg.TokenEnvVar if set, otherwise defaults to JIRA_API_TOKEN.
func resolveToken(cfg tracker.Config) (string, error) {
	envVar := "JIRA_API_TOKEN"
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%s environment variable is not set (required for Jira API access)", envVar)
	}
	return token, nil
}

// Name returns the tracker type.
func (p *Provider) Name() tracker.Type {
	return tracker.Jira
}

// CreateOrUpdateIssue creates an issue in the configured project, or
// updates the summary and description of an existing key. Labels are added
// to existing issues, never replaced.
func (p *Provider) CreateOrUpdateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.IssueRef, error) {
	fields := &models.IssueFieldsScheme{
		Summary:     req.Title,
		Description: MarkdownToADF(req.Body),
	}

	if req.ExistingID != "" {
		key, err := issueKey(req.ExistingID)
		if err != nil {
			return nil, err
		}
		ops, err := addLabelOps(req.Labels)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Issue.Update(ctx, key, false, &models.IssueScheme{Fields: fields}, nil, ops)
		if err != nil {
			return nil, tracker.WrapResponse("update issue", httpResponse(resp), err)
		}
		return &tracker.IssueRef{ID: key, URL: p.browseURL(key)}, nil
	}

	fields.Project = &models.ProjectScheme{Key: p.project}
	fields.IssueType = &models.IssueTypeScheme{Name: p.issueType}
	fields.Labels = req.Labels
	created, resp, err := p.client.Issue.Create(ctx, &models.IssueScheme{Fields: fields}, nil)
	if err != nil {
		return nil, tracker.WrapResponse("create issue", httpResponse(resp), err)
	}
	return &tracker.IssueRef{ID: created.Key, URL: p.browseURL(created.Key), Created: true}, nil
}

// AddComment adds a comment to the issue.
func (p *Provider) AddComment(ctx context.Context, issueID, body string) error {
	key, err := issueKey(issueID)
	if err != nil {
		return err
	}
	_, resp, err := p.client.Issue.Comment.Add(ctx, key, &models.CommentPayloadScheme{
		Body: MarkdownToADF(body),
	}, nil)
	if err != nil {
		return tracker.WrapResponse("add comment", httpResponse(resp), err)
	}
	return nil
}

// AddLabels adds labels to the issue.
func (p *Provider) AddLabels(ctx context.Context, issueID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	key, err := issueKey(issueID)
	if err != nil {
		return err
	}
	ops, err := addLabelOps(labels)
	if err != nil {
		return err
	}
	resp, err := p.client.Issue.Update(ctx, key, false, &models.IssueScheme{}, nil, ops)
	if err != nil {
		return tracker.WrapResponse("add labels", httpResponse(resp), err)
	}
	return nil
}

func (p *Provider) browseURL(key string) string {
	return p.baseURL + "/browse/" + key
}

func addLabelOps(labels []string) (*models.UpdateOperations, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	mapping := make(map[string]string, len(labels))
	for _, l := range labels {
		mapping[l] = "add"
	}
	ops := &models.UpdateOperations{}
	if err := ops.AddArrayOperation("labels", mapping); err != nil {
		return nil, fmt.Errorf("build label update: %w", err)
	}
	return ops, nil
}

var issueKeyPattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*-[1-9][0-9]*|[1-9][0-9]*)$`)

func issueKey(id string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(id))
	if !issueKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: jira issue key %q", tracker.ErrInvalidIssueID, id)
	}
	return key, nil
}

func httpResponse(resp *models.ResponseScheme) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.Response
}
