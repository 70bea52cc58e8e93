package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	db, err := OpenDB(ctx, DefaultConnectionConfig(DriverSQLite, "file::memory:?_foreign_keys=on"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, DriverSQLite)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestSQLStore_SitesAndPrincipals(t *testing.T) {
	ctx := context.Background()
	store := setupSQLiteStore(t)

	blog, err := store.UpsertSite(ctx, Site{
		Slug:             "Blog",
		Repo:             "acme/blog",
		DisplayName:      "Acme Blog",
		AllowedRedirects: []string{"https://blog.acme.test/admin/", "https://preview.acme.test/"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, blog.ID)
	assert.Equal(t, "blog", blog.Slug)

	docs, err := store.UpsertSite(ctx, Site{Slug: "docs", Repo: "acme/docs"})
	require.NoError(t, err)

	require.NoError(t, store.UpsertPrincipal(ctx, Principal{Email: "Alice@Acme.test", SiteID: blog.ID, Role: RoleAdmin}))
	require.NoError(t, store.UpsertPrincipal(ctx, Principal{Email: "alice@acme.test", SiteID: docs.ID, Role: RoleEditor}))

	t.Run("find site by slug", func(t *testing.T) {
		site, err := store.FindSiteBySlug(ctx, " BLOG ")
		require.NoError(t, err)
		assert.Equal(t, blog.ID, site.ID)
		assert.Equal(t, "acme/blog", site.Repo)
		assert.Equal(t, []string{"https://blog.acme.test/admin/", "https://preview.acme.test/"}, site.AllowedRedirects)
	})

	t.Run("find site by id", func(t *testing.T) {
		site, err := store.FindSiteByID(ctx, docs.ID)
		require.NoError(t, err)
		assert.Equal(t, "docs", site.Slug)
		assert.Nil(t, site.AllowedRedirects)
	})

	t.Run("unknown site", func(t *testing.T) {
		_, err := store.FindSiteBySlug(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindSiteByID(ctx, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("principals across sites", func(t *testing.T) {
		ps, err := store.FindPrincipalsByEmail(ctx, "ALICE@acme.test")
		require.NoError(t, err)
		require.Len(t, ps, 2)
		for _, p := range ps {
			assert.Equal(t, "alice@acme.test", p.Email)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := store.FindPrincipalsByEmail(ctx, "mallory@acme.test")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert keeps id and updates repo", func(t *testing.T) {
		updated, err := store.UpsertSite(ctx, Site{Slug: "blog", Repo: "acme/new-blog"})
		require.NoError(t, err)
		assert.Equal(t, blog.ID, updated.ID)

		site, err := store.FindSiteBySlug(ctx, "blog")
		require.NoError(t, err)
		assert.Equal(t, "acme/new-blog", site.Repo)
	})

	t.Run("role change replaces grant", func(t *testing.T) {
		require.NoError(t, store.UpsertPrincipal(ctx, Principal{Email: "alice@acme.test", SiteID: docs.ID, Role: RoleAdmin}))
		ps, err := store.ListPrincipals(ctx, docs.ID)
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, RoleAdmin, ps[0].Role)
	})

	t.Run("list sites", func(t *testing.T) {
		sites, err := store.ListSites(ctx)
		require.NoError(t, err)
		require.Len(t, sites, 2)
		assert.Equal(t, "blog", sites[0].Slug)
		assert.Equal(t, "docs", sites[1].Slug)
	})

	t.Run("delete principal", func(t *testing.T) {
		require.NoError(t, store.DeletePrincipal(ctx, "Alice@acme.test", docs.ID))
		assert.ErrorIs(t, store.DeletePrincipal(ctx, "alice@acme.test", docs.ID), ErrNotFound)

		ps, err := store.FindPrincipalsByEmail(ctx, "alice@acme.test")
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, blog.ID, ps[0].SiteID)
	})
}

func TestSQLStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := setupSQLiteStore(t)

	_, err := store.UpsertSite(ctx, Site{Slug: "blog"})
	assert.Error(t, err)

	_, err = store.UpsertSite(ctx, Site{Slug: "has space", Repo: "acme/x"})
	assert.Error(t, err)

	site, err := store.UpsertSite(ctx, Site{Slug: "blog", Repo: "acme/blog"})
	require.NoError(t, err)

	assert.Error(t, store.UpsertPrincipal(ctx, Principal{Email: "a@acme.test", SiteID: site.ID, Role: "owner"}))
	assert.Error(t, store.UpsertPrincipal(ctx, Principal{Email: " ", SiteID: site.ID, Role: RoleEditor}))
	assert.ErrorIs(t, store.UpsertPrincipal(ctx, Principal{Email: "a@acme.test", SiteID: "missing", Role: RoleEditor}), ErrNotFound)
}

func TestSQLStore_Import(t *testing.T) {
	ctx := context.Background()
	store := setupSQLiteStore(t)

	doc, err := ParseDocument([]byte(testDocument))
	require.NoError(t, err)
	require.NoError(t, store.Import(ctx, doc))

	// Importing twice is idempotent
	require.NoError(t, store.Import(ctx, doc))

	sites, err := store.ListSites(ctx)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	ps, err := store.FindPrincipalsByEmail(ctx, "bob@acme.test")
	require.NoError(t, err)
	require.Len(t, ps, 1)

	site, err := store.FindSiteByID(ctx, ps[0].SiteID)
	require.NoError(t, err)
	assert.Equal(t, "docs", site.Slug)
	assert.Equal(t, RoleEditor, ps[0].Role)
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT email, site_id, role FROM authorized_users WHERE email = $1 ORDER BY site_id`)).
		WithArgs("carol@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"email", "site_id", "role"}).
			AddRow("Carol@acme.test", "site-1", "editor"))

	ps, err := store.FindPrincipalsByEmail(context.Background(), " Carol@ACME.test ")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "carol@acme.test", ps[0].Email)
	assert.Equal(t, RoleEditor, ps[0].Role)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM authorized_users WHERE email = $1 AND site_id = $2`)).
		WithArgs("carol@acme.test", "site-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeletePrincipal(context.Background(), "carol@acme.test", "site-1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_QueryErrorIsNotNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DriverPostgres)
	mock.ExpectQuery(`SELECT .* FROM sites WHERE slug = \$1`).WillReturnError(assert.AnError)

	_, err = store.FindSiteBySlug(context.Background(), "blog")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	_, err := OpenDB(context.Background(), DefaultConnectionConfig("mysql", "x"))
	assert.Error(t, err)
}
