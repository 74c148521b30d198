package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/incsync/internal/retry"
	"github.com/randalmurphal/incsync/internal/tracker"
)

func TestResolveToken(t *testing.T) {
	// Cannot use t.Parallel(): t.Setenv modifies process environment.
	tests := []struct {
		name      string
		cfg       tracker.Config
		envKey    string
		envValue  string
		wantToken string
		wantErr   bool
	}{
		{
			name:      "GITHUB_TOKEN set",
			envKey:    "GITHUB_TOKEN",
			envValue:  "ghp_test123",
			wantToken: "ghp_test123",
		},
		{
			name:    "GITHUB_TOKEN not set returns error",
			wantErr: true,
		},
		{
			name:      "custom env var overrides default",
			cfg:       tracker.Config{TokenEnvVar: "MY_GH_TOKEN"},
			envKey:    "MY_GH_TOKEN",
			envValue:  "custom_token_value",
			wantToken: "custom_token_value",
		},
		{
			name:    "custom env var not set returns error",
			cfg:     tracker.Config{TokenEnvVar: "MY_GH_TOKEN"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GITHUB_TOKEN", "")
			t.Setenv("MY_GH_TOKEN", "")
			if tt.envKey != "" {
				t.Setenv(tt.envKey, tt.envValue)
			}

			token, err := resolveToken(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestNewProvider_RequiresRepo(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_x")
	_, err := tracker.NewProvider(tracker.Config{Provider: "github", Repo: "widgets"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/repo")

	p, err := tracker.NewProvider(tracker.Config{Provider: "github", Repo: "acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, tracker.GitHub, p.Name())
}

func newTestProvider(t *testing.T, h http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := gogithub.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return New(client, "acme", "widgets")
}

func TestCreateOrUpdateIssue_Create(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/issues", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number":42,"html_url":"https://github.com/acme/widgets/issues/42"}`))
	}))

	ref, err := p.CreateOrUpdateIssue(context.Background(), tracker.IssueRequest{
		IncrementID: "0001-auth",
		Title:       "0001-auth: User auth",
		Body:        "3/4 tasks complete",
		Labels:      []string{"incsync"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", ref.ID)
	assert.Equal(t, "https://github.com/acme/widgets/issues/42", ref.URL)
	assert.True(t, ref.Created)
	assert.Equal(t, "0001-auth: User auth", got["title"])
	assert.Equal(t, []any{"incsync"}, got["labels"])
}

func TestCreateOrUpdateIssue_EditsExisting(t *testing.T) {
	var paths []string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/repos/acme/widgets/issues/42":
			_, _ = w.Write([]byte(`{"number":42,"html_url":"https://github.com/acme/widgets/issues/42"}`))
		case "/repos/acme/widgets/issues/42/labels":
			_, _ = w.Write([]byte(`[{"name":"incsync"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ref, err := p.CreateOrUpdateIssue(context.Background(), tracker.IssueRequest{
		Title:      "t",
		Labels:     []string{"incsync"},
		ExistingID: "#42",
	})
	require.NoError(t, err)
	assert.False(t, ref.Created)
	assert.Equal(t, []string{
		"PATCH /repos/acme/widgets/issues/42",
		"POST /repos/acme/widgets/issues/42/labels",
	}, paths)
}

func TestAddComment(t *testing.T) {
	var body map[string]string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/issues/7/comments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	require.NoError(t, p.AddComment(context.Background(), "7", "progress: 75%"))
	assert.Equal(t, "progress: 75%", body["body"])
}

func TestInvalidIssueID(t *testing.T) {
	p := New(gogithub.NewClient(nil), "acme", "widgets")
	err := p.AddComment(context.Background(), "PROJ-1", "x")
	assert.ErrorIs(t, err, tracker.ErrInvalidIssueID)
	assert.Equal(t, retry.KindUnknown, retry.Classify(err).Kind)
}

func TestServerErrorsClassifyAsRetryable(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"bad gateway"}`))
	}))

	_, err := p.CreateOrUpdateIssue(context.Background(), tracker.IssueRequest{Title: "t"})
	require.Error(t, err)
	var apiErr *tracker.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, retry.KindServer, retry.Classify(err).Kind)
}

func TestValidationErrorIsNotRetried(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))

	_, err := p.CreateOrUpdateIssue(context.Background(), tracker.IssueRequest{Title: ""})
	require.Error(t, err)
	assert.Equal(t, retry.KindUnknown, retry.Classify(err).Kind)
}
