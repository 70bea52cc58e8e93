// Package directory stores the sites served by repogate and the principals
// allowed to sign in to them.
//
// Three backends implement Directory: SQLStore (PostgreSQL or SQLite),
// FileStore (a watched YAML document) and CachedDirectory, which fronts
// either with an in-process LRU and an optional Redis tier.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no record matches a lookup
var ErrNotFound = errors.New("not found")

// Role is a principal's role on a site
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

// ParseRole accepts "admin" or "editor" in any case
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEditor:
		return RoleEditor, nil
	default:
		return "", fmt.Errorf("invalid role %q (must be admin or editor)", s)
	}
}

// Site is one tenant: a slug, the repository its editors may access and
// branding for the sign-in pages
type Site struct {
	ID               string   `json:"id" yaml:"id"`
	Slug             string   `json:"slug" yaml:"slug"`
	Repo             string   `json:"repo" yaml:"repo"`
	DisplayName      string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	LogoURL          string   `json:"logo_url,omitempty" yaml:"logo_url,omitempty"`
	AccentColor      string   `json:"accent_color,omitempty" yaml:"accent_color,omitempty"`
	AllowedRedirects []string `json:"allowed_redirects,omitempty" yaml:"allowed_redirects,omitempty"`
}

// Principal grants an email a role on one site
type Principal struct {
	Email  string `json:"email"`
	SiteID string `json:"site_id"`
	Role   Role   `json:"role"`
}

// Directory answers the lookups the authorization gate needs
type Directory interface {
	// FindPrincipalsByEmail returns every principal record for the address.
	// An address with no records yields ErrNotFound.
	FindPrincipalsByEmail(ctx context.Context, email string) ([]Principal, error)
	FindSiteBySlug(ctx context.Context, slug string) (*Site, error)
	FindSiteByID(ctx context.Context, id string) (*Site, error)
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeSlug trims and lower-cases a site slug
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// Validate checks the fields every backend requires
func (s *Site) Validate() error {
	if s.Slug == "" {
		return fmt.Errorf("site slug is required")
	}
	if strings.ContainsAny(s.Slug, " /?#") {
		return fmt.Errorf("site slug %q contains invalid characters", s.Slug)
	}
	if s.Repo == "" {
		return fmt.Errorf("site %s: repo is required", s.Slug)
	}
	return nil
}

func cloneSite(s *Site) *Site {
	if s == nil {
		return nil
	}
	out := *s
	if s.AllowedRedirects != nil {
		out.AllowedRedirects = append([]string(nil), s.AllowedRedirects...)
	}
	return &out
}

func clonePrincipals(ps []Principal) []Principal {
	return append([]Principal(nil), ps...)
}
