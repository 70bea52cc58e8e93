package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repogate/pkg/observability"
)

const testDocument = `
sites:
  - slug: blog
    repo: acme/blog
    display_name: Acme Blog
    accent_color: "#ff6600"
    allowed_redirects:
      - https://blog.acme.test/admin/
  - slug: docs
    repo: acme/docs
principals:
  - email: Alice@Acme.test
    site: blog
    role: admin
  - email: alice@acme.test
    site: docs
    role: editor
  - email: bob@acme.test
    site: DOCS
    role: Editor
`

func writeDocument(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseDocument_Validation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "duplicate slug",
			doc:     "sites:\n  - {slug: a, repo: x/a}\n  - {slug: A, repo: x/b}\n",
			wantErr: "duplicate site slug",
		},
		{
			name:    "unknown site",
			doc:     "sites:\n  - {slug: a, repo: x/a}\nprincipals:\n  - {email: a@x.test, site: b, role: admin}\n",
			wantErr: "unknown site",
		},
		{
			name:    "bad role",
			doc:     "sites:\n  - {slug: a, repo: x/a}\nprincipals:\n  - {email: a@x.test, site: a, role: owner}\n",
			wantErr: "invalid role",
		},
		{
			name:    "duplicate grant",
			doc:     "sites:\n  - {slug: a, repo: x/a}\nprincipals:\n  - {email: a@x.test, site: a, role: admin}\n  - {email: A@x.test, site: a, role: editor}\n",
			wantErr: "duplicate principal",
		},
		{
			name:    "duplicate site id",
			doc:     "sites:\n  - {id: s1, slug: docs, repo: acme/docs}\n  - {id: s1, slug: secret, repo: acme/secret}\n",
			wantErr: "reuses id",
		},
		{
			name:    "site id collides with slug",
			doc:     "sites:\n  - {slug: docs, repo: acme/docs}\n  - {id: docs, slug: secret, repo: acme/secret}\n",
			wantErr: "reuses id",
		},
		{
			name:    "missing repo",
			doc:     "sites:\n  - {slug: a}\n",
			wantErr: "repo is required",
		},
		{
			name:    "not yaml",
			doc:     "sites: [",
			wantErr: "parse directory document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFileStore_Lookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	writeDocument(t, path, testDocument)

	store, err := NewFileStore(path, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	site, err := store.FindSiteBySlug(ctx, "Blog")
	require.NoError(t, err)
	assert.Equal(t, "blog", site.ID, "site ID defaults to slug")
	assert.Equal(t, "#ff6600", site.AccentColor)

	// Callers get copies
	site.AllowedRedirects[0] = "https://evil.test/"
	again, err := store.FindSiteByID(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "https://blog.acme.test/admin/", again.AllowedRedirects[0])

	ps, err := store.FindPrincipalsByEmail(ctx, "ALICE@acme.test")
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	ps, err = store.FindPrincipalsByEmail(ctx, "bob@acme.test")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "docs", ps[0].SiteID)
	assert.Equal(t, RoleEditor, ps[0].Role)

	_, err = store.FindPrincipalsByEmail(ctx, "nobody@acme.test")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindSiteBySlug(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_InitialLoadMustSucceed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	writeDocument(t, path, "sites: [")

	_, err := NewFileStore(path, nil, nil)
	assert.Error(t, err)

	_, err = NewFileStore(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestFileStore_ReloadKeepsSnapshotOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	writeDocument(t, path, testDocument)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store, err := NewFileStore(path, nil, metrics)
	require.NoError(t, err)
	ctx := context.Background()

	writeDocument(t, path, "principals:\n  - {email: a@x.test, site: gone, role: admin}\n")
	assert.Error(t, store.Reload())
	assert.Error(t, store.Healthy(ctx))

	_, err = store.FindSiteBySlug(ctx, "blog")
	assert.NoError(t, err, "previous snapshot still served")

	writeDocument(t, path, "sites:\n  - {slug: shop, repo: acme/shop}\n")
	require.NoError(t, store.Reload())
	assert.NoError(t, store.Healthy(ctx))

	_, err = store.FindSiteBySlug(ctx, "blog")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DirectoryReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DirectoryReloadsTotal.WithLabelValues("error")))
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	writeDocument(t, path, testDocument)

	store, err := NewFileStore(path, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeDocument(t, path, testDocument+"  - email: carol@acme.test\n    site: blog\n    role: editor\n")

	assert.Eventually(t, func() bool {
		_, err := store.FindPrincipalsByEmail(context.Background(), "carol@acme.test")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
