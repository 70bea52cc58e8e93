package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repogate/pkg/exchange"
)

func TestSigninPage(t *testing.T) {
	ts := setupTestServer(t, exchange.Options{})

	t.Run("site branding", func(t *testing.T) {
		rec := ts.do("GET", "/auth?site=docs&redirect_uri="+url.QueryEscape("https://docs.acme.test/admin/"), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "Sign in to Acme Docs")
		assert.Contains(t, rec.Body.String(), "#123456")
		assert.NotContains(t, rec.Body.String(), "acme/docs")
	})

	t.Run("unknown site uses defaults", func(t *testing.T) {
		rec := ts.do("GET", "/auth?site=missing", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Sign in to repogate")
	})

	t.Run("disallowed redirect", func(t *testing.T) {
		rec := ts.do("GET", "/auth?redirect_uri="+url.QueryEscape("https://evil.test/"), "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "redirect_uri not allowed", decodeBody(t, rec)["error"])
		assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.RedirectRejectionsTotal))
	})

	t.Run("site redirect needs its site", func(t *testing.T) {
		rec := ts.do("GET", "/auth?redirect_uri="+url.QueryEscape("https://docs.acme.test/admin/"), "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCallbackPage(t *testing.T) {
	ts := setupTestServer(t, exchange.Options{})

	t.Run("bridge page", func(t *testing.T) {
		rec := ts.do("GET", "/callback?site=docs&redirect_uri="+url.QueryEscape("https://cms.acme.test/"), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Contains(t, rec.Body.String(), "validate_url")
	})

	t.Run("provider error redirects back", func(t *testing.T) {
		target := "/callback?error=access_denied&error_description=" + url.QueryEscape("User cancelled") +
			"&redirect_uri=" + url.QueryEscape("https://cms.acme.test/admin/#stale")
		rec := ts.do("GET", target, "")
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://cms.acme.test/admin/#error=User+cancelled", rec.Header().Get("Location"))
	})

	t.Run("provider error without redirect renders inline", func(t *testing.T) {
		rec := ts.do("GET", "/callback?error=access_denied", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "access_denied")
	})

	t.Run("disallowed redirect", func(t *testing.T) {
		rec := ts.do("GET", "/callback?error=x&redirect_uri="+url.QueryEscape("https://evil.test/"), "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, rec.Header().Get("Location"))
	})
}

func TestSiteBranding(t *testing.T) {
	ts := setupTestServer(t, exchange.Options{})

	rec := ts.do("GET", "/api/site/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "docs", body["slug"])
	assert.Equal(t, "Acme Docs", body["name"])
	assert.Equal(t, "#123456", body["accent_color"])
	assert.NotContains(t, body, "repo")
	assert.NotContains(t, body, "allowed_redirects")

	rec = ts.do("GET", "/api/site/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Site not found", decodeBody(t, rec)["error"])
}
