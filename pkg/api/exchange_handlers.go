package api

import (
	"net/http"

	"github.com/platinummonkey/repogate/pkg/exchange"
	"github.com/platinummonkey/repogate/pkg/handoff"
	"github.com/platinummonkey/repogate/pkg/httputil"
)

// validateExchange handles POST /callback/validate. A missing or malformed
// body is treated as empty so it yields "Missing access_token". A
// redirect_uri is checked again before any credential is released.
func (s *Server) validateExchange(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	httputil.ParseJSONLenient(r, &req)

	if req.RedirectURI != "" {
		site := s.lookupSite(r.Context(), req.Site)
		if !s.checkRedirect(w, r, req.RedirectURI, site) {
			return
		}
	}

	result := s.exchanger.Redirect(r.Context(), exchange.RedirectRequest{
		AccessToken: req.AccessToken,
		Site:        req.Site,
	})

	httputil.NoStore(w)
	if !result.OK() {
		writeFailure(w, result.Failure)
		return
	}

	resp := ValidateResponse{
		Success:   true,
		Token:     result.Success.Token,
		ExpiresIn: result.Success.ExpiresIn,
	}
	if req.RedirectURI != "" {
		target, err := handoff.SuccessURL(req.RedirectURI, result.Success)
		if err != nil {
			httputil.WriteBadRequest(w, handoff.ErrRedirectNotAllowed.Error())
			return
		}
		resp.RedirectTo = target
	}
	httputil.WriteSuccess(w, resp)
}

// directExchange handles POST /auth
func (s *Server) directExchange(w http.ResponseWriter, r *http.Request) {
	var req DirectRequest
	httputil.ParseJSONLenient(r, &req)

	result := s.exchanger.Direct(r.Context(), exchange.DirectRequest{
		Token: req.Token,
		Repo:  req.Repo,
	})

	httputil.NoStore(w)
	if !result.OK() {
		writeFailure(w, result.Failure)
		return
	}

	httputil.WriteSuccess(w, DirectResponse{
		AccessToken: result.Success.Token,
		TokenType:   result.Success.TokenType,
	})
}

func writeFailure(w http.ResponseWriter, f *exchange.Failure) {
	httputil.WriteErrorMessage(w, f.Status, f.Message)
}
