package tracker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/incsync/internal/retry"
)

type stubProvider struct{ cfg Config }

func (s *stubProvider) Name() Type { return Type(s.cfg.Provider) }
func (s *stubProvider) CreateOrUpdateIssue(context.Context, IssueRequest) (*IssueRef, error) {
	return &IssueRef{ID: "1"}, nil
}
func (s *stubProvider) AddComment(context.Context, string, string) error  { return nil }
func (s *stubProvider) AddLabels(context.Context, string, []string) error { return nil }

func TestNewProvider(t *testing.T) {
	RegisterProvider("stub", func(cfg Config) (Provider, error) { return &stubProvider{cfg: cfg}, nil })
	t.Cleanup(func() { delete(providerConstructors, "stub") })

	p, err := NewProvider(Config{Provider: " Stub "})
	require.NoError(t, err)
	assert.Equal(t, " Stub ", p.(*stubProvider).cfg.Provider)
	assert.Contains(t, Registered(), Type("stub"))

	_, err = NewProvider(Config{Provider: "bitbucket"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no tracker registered for "bitbucket"`)

	_, err = NewProvider(Config{})
	require.Error(t, err)
}

func TestParseRepo(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
	}{
		{"acme/widgets", "acme", "widgets"},
		{"https://github.com/acme/widgets.git", "acme", "widgets"},
		{"git@github.com:acme/widgets.git", "acme", "widgets"},
		{"ssh://git@gitlab.example.com:2222/group/sub/widgets.git", "group/sub", "widgets"},
		{"https://gitlab.com/group/sub/widgets", "group/sub", "widgets"},
		{"widgets", "widgets", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo := ParseRepo(tt.in)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestWrapResponse(t *testing.T) {
	cause := errors.New("boom")

	assert.NoError(t, WrapResponse("create issue", nil, nil))

	err := WrapResponse("create issue", nil, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "create issue: boom", err.Error())

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"12"}}}
	err = WrapResponse("create issue", resp, cause)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.HTTPStatus())
	assert.Equal(t, 12*time.Second, apiErr.RetryAfter())
	assert.Equal(t, "create issue (status 429): boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAPIError_Is(t *testing.T) {
	assert.ErrorIs(t, &APIError{Status: 401, Err: errors.New("x")}, ErrAuthFailed)
	assert.ErrorIs(t, &APIError{Status: 403, Err: errors.New("x")}, ErrAuthFailed)
	assert.ErrorIs(t, &APIError{Status: 404, Err: errors.New("x")}, ErrNotFound)
	assert.NotErrorIs(t, &APIError{Status: 500, Err: errors.New("x")}, ErrNotFound)
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		status int
		wait   time.Duration
		kind   retry.Kind
	}{
		{429, 5 * time.Second, retry.KindRateLimit},
		{503, 0, retry.KindServer},
		{408, 0, retry.KindNetwork},
		{400, 0, retry.KindUnknown},
		{401, 0, retry.KindUnknown},
	}
	for _, tt := range tests {
		c := retry.Classify(&APIError{Op: "op", Status: tt.status, Wait: tt.wait, Err: errors.New("failed")})
		assert.Equal(t, tt.kind, c.Kind, "status %d", tt.status)
		assert.Equal(t, tt.wait, c.Wait, "status %d", tt.status)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("-1"))
	assert.Zero(t, ParseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.InDelta(t, time.Minute.Seconds(), ParseRetryAfter(future).Seconds(), 2)
}
