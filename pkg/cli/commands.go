package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repogate/pkg/authz"
	"github.com/platinummonkey/repogate/pkg/directory"
)

// ErrDenied is returned by check when the email is not authorized
var ErrDenied = errors.New("denied")

func newMigrateCommand(e *env) *Command {
	return &Command{
		Name:        "migrate",
		Description: "Create the directory tables",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
			store := addStoreFlags(flags)
			if err := flags.Parse(args); err != nil {
				return err
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			e.log.Info("Directory schema is up to date")
			return nil
		},
	}
}

func newImportCommand(e *env) *Command {
	return &Command{
		Name:        "import",
		Description: "Upsert sites and principals from a YAML directory file",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("import", flag.ContinueOnError)
			store := addStoreFlags(flags)
			file := flags.String("file", "", "YAML directory file")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if *file == "" {
				return fmt.Errorf("-file is required")
			}

			doc, err := directory.LoadDocument(*file)
			if err != nil {
				return err
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			if err := s.Import(ctx, doc); err != nil {
				return err
			}

			e.log.WithFields(logrus.Fields{
				"sites":      len(doc.Sites),
				"principals": len(doc.Principals),
			}).Info("Imported directory")
			return nil
		},
	}
}

func newSiteCommand(e *env) *Command {
	return &Command{
		Name:        "site",
		Description: "Create or update one site",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("site", flag.ContinueOnError)
			store := addStoreFlags(flags)
			slug := flags.String("slug", "", "Site slug")
			repo := flags.String("repo", "", "Repository (owner/name)")
			name := flags.String("name", "", "Display name")
			logo := flags.String("logo", "", "Logo URL")
			accent := flags.String("accent", "", "Accent colour (#rrggbb)")
			redirects := flags.String("redirects", "", "Comma-separated redirect_uri allow-list")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if *slug == "" || *repo == "" {
				return fmt.Errorf("-slug and -repo are required")
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			site, err := s.UpsertSite(ctx, directory.Site{
				Slug:             *slug,
				Repo:             *repo,
				DisplayName:      *name,
				LogoURL:          *logo,
				AccentColor:      *accent,
				AllowedRedirects: splitList(*redirects),
			})
			if err != nil {
				return err
			}
			if err := store.invalidate(ctx, s, "", site); err != nil {
				return err
			}

			e.log.WithFields(logrus.Fields{"site": site.Slug, "repo": site.Repo}).Info("Saved site")
			return nil
		},
	}
}

func newSitesCommand(e *env) *Command {
	return &Command{
		Name:        "sites",
		Description: "List sites and their principals",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("sites", flag.ContinueOnError)
			store := addStoreFlags(flags)
			if err := flags.Parse(args); err != nil {
				return err
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sites, err := s.ListSites(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tREPO\tPRINCIPALS\tREDIRECTS")
			for _, site := range sites {
				principals, err := s.ListPrincipals(ctx, site.ID)
				if err != nil {
					return err
				}
				emails := make([]string, 0, len(principals))
				for _, p := range principals {
					emails = append(emails, p.Email+" ("+string(p.Role)+")")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					site.Slug, site.Repo, joinOrDash(emails), joinOrDash(site.AllowedRedirects))
			}
			return tw.Flush()
		},
	}
}

func newGrantCommand(e *env) *Command {
	return &Command{
		Name:        "grant",
		Description: "Grant an email a role on a site",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("grant", flag.ContinueOnError)
			store := addStoreFlags(flags)
			email := flags.String("email", "", "Principal email")
			slug := flags.String("site", "", "Site slug")
			role := flags.String("role", string(directory.RoleEditor), "Role (admin or editor)")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if *email == "" || *slug == "" {
				return fmt.Errorf("-email and -site are required")
			}
			parsed, err := directory.ParseRole(*role)
			if err != nil {
				return err
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			site, err := s.FindSiteBySlug(ctx, *slug)
			if err != nil {
				return fmt.Errorf("site %s: %w", *slug, err)
			}
			if err := s.UpsertPrincipal(ctx, directory.Principal{Email: *email, SiteID: site.ID, Role: parsed}); err != nil {
				return err
			}
			if err := store.invalidate(ctx, s, *email, nil); err != nil {
				return err
			}

			e.log.WithFields(logrus.Fields{"site": site.Slug, "role": parsed}).Info("Granted access")
			return nil
		},
	}
}

func newRevokeCommand(e *env) *Command {
	return &Command{
		Name:        "revoke",
		Description: "Remove an email's access to a site",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("revoke", flag.ContinueOnError)
			store := addStoreFlags(flags)
			email := flags.String("email", "", "Principal email")
			slug := flags.String("site", "", "Site slug")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if *email == "" || *slug == "" {
				return fmt.Errorf("-email and -site are required")
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			site, err := s.FindSiteBySlug(ctx, *slug)
			if err != nil {
				return fmt.Errorf("site %s: %w", *slug, err)
			}
			if err := s.DeletePrincipal(ctx, *email, site.ID); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			if err := store.invalidate(ctx, s, *email, nil); err != nil {
				return err
			}

			e.log.WithField("site", site.Slug).Info("Revoked access")
			return nil
		},
	}
}

func newCheckCommand(e *env) *Command {
	return &Command{
		Name:        "check",
		Description: "Check whether an email may access a repository",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("check", flag.ContinueOnError)
			store := addStoreFlags(flags)
			email := flags.String("email", "", "Principal email")
			repo := flags.String("repo", "", "Repository (owner/name)")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if *email == "" || *repo == "" {
				return fmt.Errorf("-email and -repo are required")
			}

			ctx := context.Background()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			decision, err := authz.NewGate(s).AuthorizeRepository(ctx, *email, *repo)
			if err != nil {
				fmt.Fprintf(e.out, "deny %s %s\n", directory.NormalizeEmail(*email), *repo)
				return ErrDenied
			}

			fmt.Fprintf(e.out, "allow %s %s via site %s (%s)\n",
				decision.Principal.Email, *repo, decision.Site.Slug, decision.Principal.Role)
			return nil
		},
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
