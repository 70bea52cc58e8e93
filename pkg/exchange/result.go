package exchange

import (
	"net/http"
	"time"
)

// DefaultTTL is the validity period released with the shared credential
const DefaultTTL = 8 * time.Hour

// Credential is the shared repository credential and the validity period
// announced with it. It is read-only after construction.
type Credential struct {
	Token string
	TTL   time.Duration
}

// Reason is a machine-readable failure code
type Reason string

const (
	ReasonMissingInput Reason = "missing_input"
	ReasonInvalidToken Reason = "invalid_token"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonSiteNotFound Reason = "site_not_found"
)

// Failure messages returned to callers
const (
	MsgMissingAccessToken     = "Missing access_token"
	MsgMissingTokenOrRepo     = "Missing token or repo"
	MsgMissingSite            = "Missing site"
	MsgInvalidToken           = "Invalid or expired token"
	MsgUserNotAuthorized      = "User not authorized"
	MsgUnauthorizedRepository = "Unauthorized for this repository"
	MsgSiteNotFound           = "Site not found"
)

// Failure is a terminal, credential-free outcome
type Failure struct {
	Reason  Reason
	Message string
	Status  int
}

func (f *Failure) Error() string {
	return string(f.Reason) + ": " + f.Message
}

func missingInput(msg string) *Failure {
	return &Failure{Reason: ReasonMissingInput, Message: msg, Status: http.StatusBadRequest}
}

func invalidToken() *Failure {
	return &Failure{Reason: ReasonInvalidToken, Message: MsgInvalidToken, Status: http.StatusUnauthorized}
}

func unauthorized(msg string) *Failure {
	return &Failure{Reason: ReasonUnauthorized, Message: msg, Status: http.StatusUnauthorized}
}

// SiteNotFound is the failure for a branding lookup miss
func SiteNotFound() *Failure {
	return &Failure{Reason: ReasonSiteNotFound, Message: MsgSiteNotFound, Status: http.StatusNotFound}
}

// Grant is the released credential
type Grant struct {
	Token     string
	ExpiresIn int64
	TokenType string
}

// Result holds exactly one of Success or Failure
type Result struct {
	Success *Grant
	Failure *Failure
}

// OK reports whether the exchange released a credential
func (r Result) OK() bool {
	return r.Success != nil && r.Failure == nil
}

func fail(f *Failure) Result {
	return Result{Failure: f}
}

func succeed(c Credential) Result {
	return Result{Success: &Grant{
		Token:     c.Token,
		ExpiresIn: int64(c.TTL / time.Second),
		TokenType: "bearer",
	}}
}
