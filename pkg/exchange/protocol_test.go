package exchange

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repogate/pkg/authz"
	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/identity"
	"github.com/platinummonkey/repogate/pkg/observability"
)

const sharedToken = "ghp_shared_credential"

// tokenValidator maps tokens to emails
type tokenValidator map[string]string

func (v tokenValidator) Name() string { return "fake" }

func (v tokenValidator) Validate(ctx context.Context, token string) (*identity.VerifiedIdentity, error) {
	email, ok := v[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return &identity.VerifiedIdentity{Email: email}, nil
}

const directoryYAML = `
sites:
  - slug: docs
    repo: acme/docs
  - slug: blog
    repo: acme/blog
principals:
  - email: alice@example.com
    site: docs
    role: editor
`

func newTestProtocol(t *testing.T, opts Options) *Protocol {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o600))

	dir, err := directory.NewFileStore(path, nil, nil)
	require.NoError(t, err)

	validator := tokenValidator{
		"alice-token":   "alice@example.com",
		"mallory-token": "mallory@example.com",
	}
	p, err := NewProtocol(validator, authz.NewGate(dir), Credential{Token: sharedToken, TTL: DefaultTTL}, opts)
	require.NoError(t, err)
	return p
}

func assertFailure(t *testing.T, r Result, reason Reason, msg string, status int) {
	t.Helper()
	require.False(t, r.OK())
	assert.Nil(t, r.Success, "no credential on failure")
	assert.Equal(t, reason, r.Failure.Reason)
	assert.Equal(t, msg, r.Failure.Message)
	assert.Equal(t, status, r.Failure.Status)
}

func TestProtocol_Redirect(t *testing.T) {
	p := newTestProtocol(t, Options{})
	ctx := context.Background()

	t.Run("authorized email", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token"})
		require.True(t, r.OK())
		assert.Equal(t, sharedToken, r.Success.Token)
		assert.Equal(t, int64(28800), r.Success.ExpiresIn)
	})

	t.Run("same token twice gets two full grants", func(t *testing.T) {
		first := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token"})
		second := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token"})
		require.True(t, first.OK())
		require.True(t, second.OK())
		assert.Equal(t, first.Success.ExpiresIn, second.Success.ExpiresIn)
		assert.NotSame(t, first.Success, second.Success)
	})

	t.Run("site scoped match", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token", Site: "docs"})
		assert.True(t, r.OK())
	})

	t.Run("site scoped mismatch", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token", Site: "blog"})
		assertFailure(t, r, ReasonUnauthorized, "User not authorized", http.StatusUnauthorized)
	})

	t.Run("unknown site", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token", Site: "nope"})
		assertFailure(t, r, ReasonUnauthorized, "User not authorized", http.StatusUnauthorized)
	})

	t.Run("email not in directory", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "mallory-token"})
		assertFailure(t, r, ReasonUnauthorized, "User not authorized", http.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "expired"})
		assertFailure(t, r, ReasonInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
	})

	t.Run("missing token", func(t *testing.T) {
		r := p.Redirect(ctx, RedirectRequest{AccessToken: "  "})
		assertFailure(t, r, ReasonMissingInput, "Missing access_token", http.StatusBadRequest)
	})
}

func TestProtocol_RedirectRequireSite(t *testing.T) {
	p := newTestProtocol(t, Options{RequireSiteScope: true})
	ctx := context.Background()

	r := p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token"})
	assertFailure(t, r, ReasonMissingInput, "Missing site", http.StatusBadRequest)

	r = p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token", Site: "docs"})
	assert.True(t, r.OK())
}

func TestProtocol_Direct(t *testing.T) {
	p := newTestProtocol(t, Options{})
	ctx := context.Background()

	t.Run("matching repo", func(t *testing.T) {
		r := p.Direct(ctx, DirectRequest{Token: "alice-token", Repo: "acme/docs"})
		require.True(t, r.OK())
		assert.Equal(t, sharedToken, r.Success.Token)
		assert.Equal(t, "bearer", r.Success.TokenType)
	})

	tests := []struct {
		name   string
		req    DirectRequest
		reason Reason
		msg    string
		status int
	}{
		{"other repo", DirectRequest{Token: "alice-token", Repo: "acme/other"}, ReasonUnauthorized, "Unauthorized for this repository", http.StatusUnauthorized},
		{"case differs", DirectRequest{Token: "alice-token", Repo: "ACME/docs"}, ReasonUnauthorized, "Unauthorized for this repository", http.StatusUnauthorized},
		{"unknown email", DirectRequest{Token: "mallory-token", Repo: "acme/docs"}, ReasonUnauthorized, "Unauthorized for this repository", http.StatusUnauthorized},
		{"invalid token", DirectRequest{Token: "bogus", Repo: "acme/docs"}, ReasonUnauthorized, "Unauthorized for this repository", http.StatusUnauthorized},
		{"invalid token for other repo", DirectRequest{Token: "bogus", Repo: "acme/other"}, ReasonUnauthorized, "Unauthorized for this repository", http.StatusUnauthorized},
		{"missing repo", DirectRequest{Token: "alice-token"}, ReasonMissingInput, "Missing token or repo", http.StatusBadRequest},
		{"missing token", DirectRequest{Repo: "acme/docs"}, ReasonMissingInput, "Missing token or repo", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertFailure(t, p.Direct(ctx, tt.req), tt.reason, tt.msg, tt.status)
		})
	}
}

func TestProtocol_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := newTestProtocol(t, Options{Metrics: metrics})
	ctx := context.Background()

	p.Redirect(ctx, RedirectRequest{AccessToken: "alice-token"})
	p.Redirect(ctx, RedirectRequest{})
	p.Direct(ctx, DirectRequest{Token: "alice-token", Repo: "acme/blog"})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExchangesTotal.WithLabelValues(FlowRedirect, "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExchangesTotal.WithLabelValues(FlowRedirect, "missing_input")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExchangesTotal.WithLabelValues(FlowDirect, "unauthorized")))
}

func TestNewProtocol(t *testing.T) {
	gate := authz.NewGate(nil)
	validator := tokenValidator{}

	_, err := NewProtocol(nil, gate, Credential{Token: "x"}, Options{})
	assert.Error(t, err)
	_, err = NewProtocol(validator, nil, Credential{Token: "x"}, Options{})
	assert.Error(t, err)
	_, err = NewProtocol(validator, gate, Credential{}, Options{})
	assert.Error(t, err)

	p, err := NewProtocol(validator, gate, Credential{Token: "x"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, p.credential.TTL)
}
