// Package exchange implements the credential exchange: an identity token
// goes in, and either the shared repository credential or a failure
// reason comes out. The protocol holds no per-request state.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/repogate/pkg/authz"
	"github.com/platinummonkey/repogate/pkg/contextkeys"
	"github.com/platinummonkey/repogate/pkg/identity"
	"github.com/platinummonkey/repogate/pkg/observability"
)

// Flow names used in metrics and logs
const (
	FlowRedirect = "redirect"
	FlowDirect   = "direct"
)

// Authorizer is the subset of authz.Gate the protocol needs
type Authorizer interface {
	AuthorizeEmail(ctx context.Context, email string) (*authz.Decision, error)
	AuthorizeRepository(ctx context.Context, email, repo string) (*authz.Decision, error)
	AuthorizeSite(ctx context.Context, email, slug string) (*authz.Decision, error)
}

// Options tunes a Protocol
type Options struct {
	// RequireSiteScope makes the redirect flow reject requests without a site
	RequireSiteScope bool
	Metrics          *observability.Metrics
}

// Protocol runs the redirect and direct exchange flows
type Protocol struct {
	validator   identity.Validator
	authorizer  Authorizer
	credential  Credential
	requireSite bool
	metrics     *observability.Metrics
}

// NewProtocol creates a protocol releasing credential. A zero TTL uses
// DefaultTTL.
func NewProtocol(validator identity.Validator, authorizer Authorizer, credential Credential, opts Options) (*Protocol, error) {
	if validator == nil {
		return nil, fmt.Errorf("identity validator is required")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if credential.Token == "" {
		return nil, fmt.Errorf("shared credential is required")
	}
	if credential.TTL <= 0 {
		credential.TTL = DefaultTTL
	}

	return &Protocol{
		validator:   validator,
		authorizer:  authorizer,
		credential:  credential,
		requireSite: opts.RequireSiteScope,
		metrics:     opts.Metrics,
	}, nil
}

// RedirectRequest is the body of POST /callback/validate
type RedirectRequest struct {
	AccessToken string
	// Site is the slug the browser started from. When set, the email must
	// be authorized for that site's repository.
	Site string
}

// Redirect validates the provider token and authorizes the email. With a
// site it requires a grant for that site's repository; without one any
// directory record is enough unless RequireSiteScope is set.
func (p *Protocol) Redirect(ctx context.Context, req RedirectRequest) Result {
	ctx = contextkeys.WithFlow(ctx, FlowRedirect)
	ctx, span := observability.Tracer().Start(ctx, "exchange.redirect")
	defer span.End()
	start := time.Now()

	token := strings.TrimSpace(req.AccessToken)
	site := strings.TrimSpace(req.Site)

	var result Result
	switch {
	case token == "":
		result = fail(missingInput(MsgMissingAccessToken))
	case site == "" && p.requireSite:
		result = fail(missingInput(MsgMissingSite))
	default:
		result = p.redirect(ctx, token, site)
	}

	span.SetAttributes(attribute.Bool("repogate.site_scoped", site != ""))
	p.finish(ctx, span, FlowRedirect, result, start)
	return result
}

func (p *Protocol) redirect(ctx context.Context, token, site string) Result {
	id, err := p.validator.Validate(ctx, token)
	if err != nil {
		return fail(invalidToken())
	}

	var decision *authz.Decision
	if site != "" {
		decision, err = p.authorizer.AuthorizeSite(ctx, id.Email, site)
	} else {
		decision, err = p.authorizer.AuthorizeEmail(ctx, id.Email)
	}
	if err != nil {
		observability.FromContext(ctx).WithField("email", id.Email).Debug("Authorization denied")
		return fail(unauthorized(MsgUserNotAuthorized))
	}

	observability.FromContext(ctx).
		WithField("email", id.Email).
		WithField("site_id", decision.Principal.SiteID).
		Debug("Authorization granted")
	return succeed(p.credential)
}

// DirectRequest is the body of POST /auth
type DirectRequest struct {
	Token string
	Repo  string
}

// Direct validates the token and requires a grant for exactly req.Repo
func (p *Protocol) Direct(ctx context.Context, req DirectRequest) Result {
	ctx = contextkeys.WithFlow(ctx, FlowDirect)
	ctx, span := observability.Tracer().Start(ctx, "exchange.direct")
	defer span.End()
	start := time.Now()

	token := strings.TrimSpace(req.Token)

	var result Result
	if token == "" || req.Repo == "" {
		result = fail(missingInput(MsgMissingTokenOrRepo))
	} else {
		result = p.direct(ctx, token, req.Repo)
	}

	p.finish(ctx, span, FlowDirect, result, start)
	return result
}

// direct collapses validation and authorization failures into one 401 so
// callers cannot tell which step rejected them
func (p *Protocol) direct(ctx context.Context, token, repo string) Result {
	id, err := p.validator.Validate(ctx, token)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Debug("Token validation failed")
		return fail(unauthorized(MsgUnauthorizedRepository))
	}

	if _, err := p.authorizer.AuthorizeRepository(ctx, id.Email, repo); err != nil {
		observability.FromContext(ctx).
			WithField("email", id.Email).
			WithField("repo", repo).
			Debug("Repository authorization denied")
		return fail(unauthorized(MsgUnauthorizedRepository))
	}
	return succeed(p.credential)
}

func (p *Protocol) finish(ctx context.Context, span trace.Span, flow string, result Result, start time.Time) {
	outcome := "success"
	if !result.OK() {
		outcome = string(result.Failure.Reason)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("repogate.outcome", outcome))
	p.metrics.RecordExchange(flow, outcome, time.Since(start))

	observability.UpdateLoggerWithTraceContext(ctx, observability.FromContext(ctx)).
		WithField("outcome", outcome).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("Credential exchange completed")
}
