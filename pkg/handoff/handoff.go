// Package handoff validates the redirect_uri a browser asks to return to
// and builds the fragment-carrying URLs the credential travels in.
package handoff

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/exchange"
)

// ErrRedirectNotAllowed is returned for a redirect_uri outside the allow-list
var ErrRedirectNotAllowed = errors.New("redirect_uri not allowed")

// Policy is the redirect allow-list. Entries are either origins
// ("https://cms.example.com") which match any path, or prefixes ending in
// "/" ("https://cms.example.com/admin/") which match by path prefix.
type Policy struct {
	Global []string
	// Strict rejects every redirect_uri when the effective allow-list is empty
	Strict bool
}

// Check validates redirectURI against the global entries plus those of
// site. An empty redirectURI is always allowed.
func (p Policy) Check(redirectURI string, site *directory.Site) error {
	if redirectURI == "" {
		return nil
	}

	target, err := parseAbsolute(redirectURI)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedirectNotAllowed, err)
	}

	allowed := p.Global
	if site != nil && len(site.AllowedRedirects) > 0 {
		allowed = append(append([]string(nil), p.Global...), site.AllowedRedirects...)
	}

	if len(allowed) == 0 {
		if p.Strict {
			return fmt.Errorf("%w: no allow-list configured", ErrRedirectNotAllowed)
		}
		return nil
	}

	for _, entry := range allowed {
		if matches(entry, target) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRedirectNotAllowed, origin(target))
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL must be absolute")
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL must not carry credentials")
	}
	return u, nil
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func matches(entry string, target *url.URL) bool {
	allowed, err := parseAbsolute(strings.TrimSpace(entry))
	if err != nil {
		return false
	}
	if origin(allowed) != origin(target) {
		return false
	}
	if !strings.HasSuffix(allowed.Path, "/") || allowed.Path == "/" {
		return true
	}
	return strings.HasPrefix(target.Path, allowed.Path)
}

// SuccessURL returns redirectURI with the grant in its fragment. Any
// existing fragment is replaced; the query is left untouched.
func SuccessURL(redirectURI string, grant *exchange.Grant) (string, error) {
	v := url.Values{}
	v.Set("token", grant.Token)
	v.Set("expires_in", strconv.FormatInt(grant.ExpiresIn, 10))
	return withFragment(redirectURI, v)
}

// ErrorURL returns redirectURI with an error message in its fragment
func ErrorURL(redirectURI, message string) (string, error) {
	v := url.Values{}
	v.Set("error", message)
	return withFragment(redirectURI, v)
}

func withFragment(redirectURI string, v url.Values) (string, error) {
	u, err := parseAbsolute(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedirectNotAllowed, err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + v.Encode(), nil
}
