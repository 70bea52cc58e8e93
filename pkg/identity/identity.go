// Package identity turns an identity-provider access token into a verified
// email address.
//
// Validators never reveal why a token was refused: every failure is
// reported as ErrInvalidToken, with the cause wrapped for logging only.
package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/repogate/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrInvalidToken is returned for any token that cannot be turned into an email
var ErrInvalidToken = errors.New("invalid or expired token")

// VerifiedIdentity is what a successful validation yields
type VerifiedIdentity struct {
	Email         string
	Subject       string
	Provider      string
	EmailVerified bool
}

// Validator checks a bearer token with an identity service
type Validator interface {
	Name() string
	Validate(ctx context.Context, token string) (*VerifiedIdentity, error)
}

// NewHTTPClient returns the outbound client used for identity calls.
// Requests are traced through otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Instrumented wraps a Validator with metrics and debug logging
type Instrumented struct {
	next    Validator
	metrics *observability.Metrics
}

// Instrument wraps v so every attempt is counted by validator and result
func Instrument(v Validator, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: v, metrics: metrics}
}

// Name returns the wrapped validator's name
func (i *Instrumented) Name() string {
	return i.next.Name()
}

// Validate delegates and records the outcome
func (i *Instrumented) Validate(ctx context.Context, token string) (*VerifiedIdentity, error) {
	start := time.Now()
	id, err := i.next.Validate(ctx, token)

	result := "valid"
	if err != nil {
		result = "invalid"
		observability.FromContext(ctx).
			WithField("validator", i.next.Name()).
			WithError(err).
			Debug("token rejected")
	}
	i.metrics.RecordIdentityValidation(i.next.Name(), result, time.Since(start))

	return id, err
}
