package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/exchange"
	"github.com/platinummonkey/repogate/pkg/handoff"
	"github.com/platinummonkey/repogate/pkg/httputil"
	"github.com/platinummonkey/repogate/pkg/observability"
	"github.com/platinummonkey/repogate/pkg/pages"
)

// signinPage handles GET /auth. An unknown site falls back to the default
// branding; a disallowed redirect_uri is refused.
func (s *Server) signinPage(w http.ResponseWriter, r *http.Request) {
	site := s.lookupSite(r.Context(), httputil.ParseQueryString(r, "site", ""))
	redirectURI := httputil.ParseQueryString(r, "redirect_uri", "")

	if !s.checkRedirect(w, r, redirectURI, site) {
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.RenderSignin(&buf, site, redirectURI); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to render sign-in page")
		httputil.WriteInternalError(w, errors.New("internal server error"))
		return
	}
	writeHTML(w, buf.Bytes())
}

// callbackPage handles GET /callback. When the provider reported an error
// and there is somewhere to send it, the browser is redirected straight
// back with the error in the fragment.
func (s *Server) callbackPage(w http.ResponseWriter, r *http.Request) {
	site := s.lookupSite(r.Context(), httputil.ParseQueryString(r, "site", ""))
	redirectURI := httputil.ParseQueryString(r, "redirect_uri", "")

	if !s.checkRedirect(w, r, redirectURI, site) {
		return
	}

	providerError := httputil.ParseQueryString(r, "error_description", httputil.ParseQueryString(r, "error", ""))
	if providerError != "" && redirectURI != "" {
		target, err := handoff.ErrorURL(redirectURI, providerError)
		if err == nil {
			httputil.NoStore(w)
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}

	var buf bytes.Buffer
	if err := s.renderer.RenderCallback(&buf, site, redirectURI, providerError); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to render callback page")
		httputil.WriteInternalError(w, errors.New("internal server error"))
		return
	}
	httputil.NoStore(w)
	writeHTML(w, buf.Bytes())
}

// siteBranding handles GET /api/site/{slug}. Only cosmetic fields are
// returned.
func (s *Server) siteBranding(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	site, err := s.directory.FindSiteBySlug(r.Context(), slug)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			observability.FromContext(r.Context()).WithError(err).Warn("Site lookup failed")
		}
		f := exchange.SiteNotFound()
		httputil.WriteErrorMessage(w, f.Status, f.Message)
		return
	}

	httputil.WriteSuccess(w, pages.BrandingFor(site))
}

// health handles GET /health on the public listener
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, HealthResponse{Status: "ok"})
}

// lookupSite returns nil for an empty, unknown or unreachable site
func (s *Server) lookupSite(ctx context.Context, slug string) *directory.Site {
	if slug == "" {
		return nil
	}
	site, err := s.directory.FindSiteBySlug(ctx, slug)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			observability.FromContext(ctx).WithError(err).Warn("Site lookup failed, using default branding")
		}
		return nil
	}
	return site
}

func (s *Server) checkRedirect(w http.ResponseWriter, r *http.Request, redirectURI string, site *directory.Site) bool {
	if err := s.policy.Check(redirectURI, site); err != nil {
		s.metrics.RecordRedirectRejection()
		observability.FromContext(r.Context()).WithError(err).Warn("Rejected redirect_uri")
		httputil.WriteBadRequest(w, handoff.ErrRedirectNotAllowed.Error())
		return false
	}
	return true
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
