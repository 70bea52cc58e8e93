// Package authz decides whether a verified email may receive the shared
// repository credential.
//
// # Modes
//
// The Gate answers three questions against a directory.Directory:
//
//	AuthorizeEmail       - the email has at least one principal record
//	AuthorizeRepository  - one of the email's sites has exactly this repo
//	AuthorizeSite        - as AuthorizeRepository, for the repo of a site slug
//
// Repository identifiers are compared byte for byte. "acme/docs" and
// "Acme/Docs" are different repositories.
//
// # Failing closed
//
// Every failure is reported as ErrUnauthorized, whether the email is
// unknown, the repo does not match, or the directory could not be reached.
// Callers cannot tell these apart and must not try to.
//
//	decision, err := gate.AuthorizeRepository(ctx, "alice@example.com", "acme/docs")
//	if err != nil {
//	    // errors.Is(err, authz.ErrUnauthorized) is always true here
//	}
package authz
