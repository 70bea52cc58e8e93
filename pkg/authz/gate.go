package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/observability"
)

// ErrUnauthorized is returned for every denied or undecidable request
var ErrUnauthorized = errors.New("unauthorized")

// Decision records which principal record allowed a request. Site is nil
// for email-only decisions.
type Decision struct {
	Principal directory.Principal
	Site      *directory.Site
}

// Gate checks verified emails against a directory
type Gate struct {
	dir directory.Directory
}

// NewGate creates a gate. A nil directory denies everything.
func NewGate(dir directory.Directory) *Gate {
	return &Gate{dir: dir}
}

// AuthorizeEmail allows any email with at least one principal record.
// Role and site are not considered.
func (g *Gate) AuthorizeEmail(ctx context.Context, email string) (*Decision, error) {
	principals, err := g.principals(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Decision{Principal: principals[0]}, nil
}

// AuthorizeRepository allows the email when any of its principal records
// belongs to a site whose repo equals repo exactly
func (g *Gate) AuthorizeRepository(ctx context.Context, email, repo string) (*Decision, error) {
	if repo == "" {
		return nil, fmt.Errorf("%w: empty repository", ErrUnauthorized)
	}

	principals, err := g.principals(ctx, email)
	if err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx)
	for _, p := range principals {
		site, err := g.dir.FindSiteByID(ctx, p.SiteID)
		if err != nil {
			// A dangling principal never grants access; keep checking the rest
			if !errors.Is(err, directory.ErrNotFound) {
				logger.WithError(err).WithField("site_id", p.SiteID).Warn("Site lookup failed during authorization")
			}
			continue
		}
		if site.Repo == repo {
			return &Decision{Principal: p, Site: site}, nil
		}
	}

	return nil, fmt.Errorf("%w: no site grants repository", ErrUnauthorized)
}

// AuthorizeSite resolves slug to its repo and applies AuthorizeRepository
func (g *Gate) AuthorizeSite(ctx context.Context, email, slug string) (*Decision, error) {
	if g.dir == nil {
		return nil, fmt.Errorf("%w: no directory", ErrUnauthorized)
	}

	site, err := g.dir.FindSiteBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("%w: site lookup: %v", ErrUnauthorized, err)
	}
	return g.AuthorizeRepository(ctx, email, site.Repo)
}

func (g *Gate) principals(ctx context.Context, email string) ([]directory.Principal, error) {
	if g.dir == nil {
		return nil, fmt.Errorf("%w: no directory", ErrUnauthorized)
	}

	email = directory.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrUnauthorized)
	}

	principals, err := g.dir.FindPrincipalsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: principal lookup: %v", ErrUnauthorized, err)
	}
	if len(principals) == 0 {
		return nil, fmt.Errorf("%w: no principal", ErrUnauthorized)
	}
	return principals, nil
}
