package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/repogate/pkg/directory"
)

// maxUserinfoBody caps how much of a userinfo response is read
const maxUserinfoBody = 1 << 20

// UserinfoConfig configures a UserinfoValidator
type UserinfoConfig struct {
	// BaseURL is the identity service address, e.g. https://project.supabase.co
	BaseURL string
	// Path is appended to BaseURL; defaults to /auth/v1/user
	Path string
	// APIKey is sent as the apikey header when set
	APIKey string
	// EmailPath is a gjson path into the response body; defaults to "email"
	EmailPath string
}

// UserinfoValidator resolves a token by calling the identity service's
// user endpoint with it as a bearer credential
type UserinfoValidator struct {
	endpoint  string
	apiKey    string
	emailPath string
	client    *http.Client
}

// NewUserinfoValidator creates a validator. A nil client uses NewHTTPClient(0).
func NewUserinfoValidator(cfg UserinfoConfig, client *http.Client) (*UserinfoValidator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity base URL is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/auth/v1/user"
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.EmailPath == "" {
		cfg.EmailPath = "email"
	}
	if client == nil {
		client = NewHTTPClient(0)
	}

	return &UserinfoValidator{
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + cfg.Path,
		apiKey:    cfg.APIKey,
		emailPath: cfg.EmailPath,
		client:    client,
	}, nil
}

// Name returns the validator name
func (v *UserinfoValidator) Name() string {
	return "userinfo"
}

// Validate makes a single request to the user endpoint. Only a 200 with a
// non-empty email is accepted.
func (v *UserinfoValidator) Validate(ctx context.Context, token string) (*VerifiedIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	if v.client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.client.Timeout)
		defer cancel()
	}

	// oauth2.NewClient layers the bearer header over our base client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidToken, err)
	}
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo request failed: %v", ErrInvalidToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserinfoBody))
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrInvalidToken, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read userinfo: %v", ErrInvalidToken, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: userinfo body is not JSON", ErrInvalidToken)
	}

	email := directory.NormalizeEmail(gjson.GetBytes(body, v.emailPath).String())
	if email == "" {
		return nil, fmt.Errorf("%w: userinfo has no email", ErrInvalidToken)
	}

	id := &VerifiedIdentity{
		Email:    email,
		Subject:  firstString(body, "id", "sub"),
		Provider: firstString(body, "app_metadata.provider"),
	}
	if verified := gjson.GetBytes(body, "email_verified"); verified.Exists() {
		id.EmailVerified = verified.Bool()
	} else {
		id.EmailVerified = gjson.GetBytes(body, "email_confirmed_at").String() != ""
	}
	if id.Provider == "" {
		id.Provider = v.Name()
	}

	return id, nil
}

func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if s := gjson.GetBytes(body, p).String(); s != "" {
			return s
		}
	}
	return ""
}
