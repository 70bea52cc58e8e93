package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/repogate/pkg/directory"
)

// OIDCConfig configures an OIDCValidator
type OIDCConfig struct {
	IssuerURL            string
	ClientID             string
	RequireVerifiedEmail bool
}

// OIDCValidator accepts ID tokens signed by a discovered OpenID provider
type OIDCValidator struct {
	verifier             *oidc.IDTokenVerifier
	issuer               string
	requireVerifiedEmail bool
}

// NewOIDCValidator discovers the provider's keys and returns a validator.
// A nil client uses NewHTTPClient(0).
func NewOIDCValidator(ctx context.Context, cfg OIDCConfig, client *http.Client) (*OIDCValidator, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}
	if client == nil {
		client = NewHTTPClient(0)
	}

	// go-oidc keeps using this client for key refreshes
	ctx = oidc.ClientContext(ctx, client)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCValidator{
		verifier:             provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		issuer:               cfg.IssuerURL,
		requireVerifiedEmail: cfg.RequireVerifiedEmail,
	}, nil
}

// NewOIDCValidatorWithVerifier builds a validator around an existing verifier
func NewOIDCValidatorWithVerifier(verifier *oidc.IDTokenVerifier, issuer string, requireVerifiedEmail bool) *OIDCValidator {
	return &OIDCValidator{
		verifier:             verifier,
		issuer:               issuer,
		requireVerifiedEmail: requireVerifiedEmail,
	}
}

// Name returns the validator name
func (v *OIDCValidator) Name() string {
	return "oidc"
}

type idTokenClaims struct {
	Email         string          `json:"email"`
	EmailVerified json.RawMessage `json:"email_verified"`
}

// Validate verifies signature, issuer, audience and expiry, then reads the
// email claims
func (v *OIDCValidator) Validate(ctx context.Context, token string) (*VerifiedIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}

	email := directory.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: missing email in ID token", ErrInvalidToken)
	}

	verified := parseVerified(claims.EmailVerified)
	if v.requireVerifiedEmail && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidToken)
	}

	return &VerifiedIdentity{
		Email:         email,
		Subject:       idToken.Subject,
		Provider:      v.issuer,
		EmailVerified: verified,
	}, nil
}

// parseVerified accepts both boolean and string encodings of email_verified
func parseVerified(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, _ := strconv.ParseBool(s)
		return parsed
	}
	return false
}
