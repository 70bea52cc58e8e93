// Package pages renders the sign-in and callback bridge pages.
package pages

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/platinummonkey/repogate/pkg/directory"
)

//go:embed templates/*.html
var templateFS embed.FS

// Branding defaults
const (
	DefaultName        = "repogate"
	DefaultAccentColor = "#2f6feb"
)

var accentPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Branding is the cosmetic part of a site
type Branding struct {
	Slug        string `json:"slug,omitempty"`
	Name        string `json:"name"`
	LogoURL     string `json:"logo_url,omitempty"`
	AccentColor string `json:"accent_color"`
}

// BrandingFor returns site's branding with defaults filled in. A nil site
// yields the defaults.
func BrandingFor(site *directory.Site) Branding {
	b := Branding{Name: DefaultName, AccentColor: DefaultAccentColor}
	if site == nil {
		return b
	}

	b.Slug = site.Slug
	if site.DisplayName != "" {
		b.Name = site.DisplayName
	}
	if accentPattern.MatchString(site.AccentColor) {
		b.AccentColor = site.AccentColor
	}
	if u, err := url.Parse(site.LogoURL); err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" {
		b.LogoURL = site.LogoURL
	}
	return b
}

// Config points the pages at the identity service and this server
type Config struct {
	IdentityURL string
	APIKey      string
	PublicURL   string
	Providers   []string
}

// ProviderLink is one OAuth button on the sign-in page
type ProviderLink struct {
	Name  string
	Label string
	URL   string
}

type signinData struct {
	Branding  Branding
	Providers []ProviderLink
	Script    signinScript
}

// signinScript is serialised into the page for the magic-link form
type signinScript struct {
	OTPURL      string `json:"otp_url"`
	APIKey      string `json:"api_key"`
	CallbackURL string `json:"callback_url"`
}

type callbackData struct {
	Branding Branding
	Script   callbackScript
}

type callbackScript struct {
	ValidateURL   string `json:"validate_url"`
	RedirectURI   string `json:"redirect_uri"`
	Site          string `json:"site"`
	ProviderError string `json:"provider_error"`
}

// Renderer executes the embedded templates
type Renderer struct {
	cfg       Config
	templates *template.Template
}

// NewRenderer parses the embedded templates
func NewRenderer(cfg Config) (*Renderer, error) {
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	tmpl, err := template.New("pages").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}
	return &Renderer{cfg: cfg, templates: tmpl}, nil
}

// CallbackURL is where the identity provider returns the browser
func (r *Renderer) CallbackURL(redirectURI, slug string) string {
	q := url.Values{}
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	if slug != "" {
		q.Set("site", slug)
	}
	u := r.cfg.PublicURL + "/callback"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// ProviderLinks builds the authorize URL for each configured provider
func (r *Renderer) ProviderLinks(callbackURL string) []ProviderLink {
	links := make([]ProviderLink, 0, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		q := url.Values{}
		q.Set("provider", p)
		q.Set("redirect_to", callbackURL)
		links = append(links, ProviderLink{
			Name:  p,
			Label: strings.ToUpper(p[:1]) + p[1:],
			URL:   r.cfg.IdentityURL + "/auth/v1/authorize?" + q.Encode(),
		})
	}
	return links
}

// RenderSignin writes the sign-in page
func (r *Renderer) RenderSignin(w io.Writer, site *directory.Site, redirectURI string) error {
	branding := BrandingFor(site)
	callback := r.CallbackURL(redirectURI, branding.Slug)

	return r.execute(w, "signin.html", signinData{
		Branding:  branding,
		Providers: r.ProviderLinks(callback),
		Script: signinScript{
			OTPURL:      r.cfg.IdentityURL + "/auth/v1/otp",
			APIKey:      r.cfg.APIKey,
			CallbackURL: callback,
		},
	})
}

// RenderCallback writes the bridge page that posts the provider token to
// /callback/validate and hands the result to redirectURI
func (r *Renderer) RenderCallback(w io.Writer, site *directory.Site, redirectURI, providerError string) error {
	branding := BrandingFor(site)
	return r.execute(w, "callback.html", callbackData{
		Branding: branding,
		Script: callbackScript{
			ValidateURL:   r.cfg.PublicURL + "/callback/validate",
			RedirectURI:   redirectURI,
			Site:          branding.Slug,
			ProviderError: providerError,
		},
	})
}

// execute renders into a buffer so a template error never leaves a
// half-written page
func (r *Renderer) execute(w io.Writer, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to execute %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
