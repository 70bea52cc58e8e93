// Package api provides the public HTTP surface of repogate.
//
// # Overview
//
// The server exchanges an identity-provider access token for the shared
// repository credential. It is built on gorilla/mux and delegates the
// decision to an Exchanger; handlers only translate between HTTP and the
// exchange results.
//
// # Endpoints
//
//	GET  /auth                sign-in page (optional ?site= and ?redirect_uri=)
//	POST /auth                direct exchange: {"token", "repo"} -> {"access_token", "token_type"}
//	GET  /callback            provider callback bridge page
//	POST /callback/validate   redirect exchange: {"access_token", "site"} -> {"success", "token", "expires_in"}
//	GET  /api/site/{slug}     public branding for a site
//	GET  /health              liveness
//
// # Failure Responses
//
// Every failure is JSON {"error": "..."} with status 400 for missing input,
// 401 for a rejected token or an unauthorized email and 404 for an unknown
// site. Exchange responses carry Cache-Control: no-store.
//
// # Usage Example
//
//	server, err := api.NewServer(api.Options{
//		Exchanger: protocol,
//		Directory: dir,
//		Renderer:  renderer,
//		Policy:    handoff.Policy{Global: []string{"https://cms.example.com"}},
//		Metrics:   metrics,
//	})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", server.Handler(logger, api.HandlerConfig{CORSOrigins: []string{"*"}}))
package api
