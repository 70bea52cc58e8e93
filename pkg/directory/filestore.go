package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/repogate/pkg/observability"
)

// Document is the YAML form of a directory, used by FileStore and the
// import command
type Document struct {
	Sites      []Site              `yaml:"sites"`
	Principals []DocumentPrincipal `yaml:"principals"`
}

// DocumentPrincipal references its site by slug
type DocumentPrincipal struct {
	Email string `yaml:"email"`
	Site  string `yaml:"site"`
	Role  string `yaml:"role"`
}

// ParseDocument decodes and validates a YAML document
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse directory document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads a YAML document from disk
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return ParseDocument(data)
}

// Validate checks slugs and site IDs are unique and every principal names a
// known site with a valid role. A site without an ID is keyed by its slug.
func (d *Document) Validate() error {
	slugs := make(map[string]bool, len(d.Sites))
	ids := make(map[string]string, len(d.Sites))
	for i := range d.Sites {
		site := d.Sites[i]
		site.Slug = NormalizeSlug(site.Slug)
		if err := site.Validate(); err != nil {
			return err
		}
		if slugs[site.Slug] {
			return fmt.Errorf("duplicate site slug %q", site.Slug)
		}
		slugs[site.Slug] = true

		id := siteKey(&site)
		if other, ok := ids[id]; ok {
			return fmt.Errorf("site %q reuses id %q of site %q", site.Slug, id, other)
		}
		ids[id] = site.Slug
	}

	grants := make(map[string]bool, len(d.Principals))
	for _, p := range d.Principals {
		email := NormalizeEmail(p.Email)
		if email == "" {
			return fmt.Errorf("principal email is required")
		}
		if !slugs[NormalizeSlug(p.Site)] {
			return fmt.Errorf("principal %s references unknown site %q", p.Email, p.Site)
		}
		if _, err := ParseRole(p.Role); err != nil {
			return fmt.Errorf("principal %s: %w", p.Email, err)
		}
		key := email + "\x00" + NormalizeSlug(p.Site)
		if grants[key] {
			return fmt.Errorf("duplicate principal %s on site %s", email, p.Site)
		}
		grants[key] = true
	}
	return nil
}

// siteKey is the ID a file-backed site is stored under
func siteKey(site *Site) string {
	if id := strings.TrimSpace(site.ID); id != "" {
		return id
	}
	return NormalizeSlug(site.Slug)
}

type snapshot struct {
	bySlug  map[string]*Site
	byID    map[string]*Site
	byEmail map[string][]Principal
}

func buildSnapshot(doc *Document) *snapshot {
	snap := &snapshot{
		bySlug:  make(map[string]*Site, len(doc.Sites)),
		byID:    make(map[string]*Site, len(doc.Sites)),
		byEmail: make(map[string][]Principal),
	}
	for i := range doc.Sites {
		site := cloneSite(&doc.Sites[i])
		site.Slug = NormalizeSlug(site.Slug)
		site.ID = siteKey(site)
		snap.bySlug[site.Slug] = site
		snap.byID[site.ID] = site
	}
	for _, p := range doc.Principals {
		email := NormalizeEmail(p.Email)
		role, _ := ParseRole(p.Role)
		site := snap.bySlug[NormalizeSlug(p.Site)]
		snap.byEmail[email] = append(snap.byEmail[email], Principal{
			Email:  email,
			SiteID: site.ID,
			Role:   role,
		})
	}
	return snap
}

// FileStore serves a directory from a YAML file held in memory. Watch
// swaps in a new snapshot whenever the file changes.
type FileStore struct {
	path    string
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	snap    *snapshot
	lastErr error
}

// NewFileStore loads path. The initial load must succeed.
func NewFileStore(path string, logger *observability.Logger, metrics *observability.Metrics) (*FileStore, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	fs := &FileStore{path: path, logger: logger, metrics: metrics}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the file. An invalid file leaves the current snapshot in
// place.
func (fs *FileStore) Reload() error {
	doc, err := LoadDocument(fs.path)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err != nil {
		fs.lastErr = err
		fs.metrics.RecordDirectoryReload("error")
		return err
	}

	fs.snap = buildSnapshot(doc)
	fs.lastErr = nil
	fs.metrics.RecordDirectoryReload("success")
	return nil
}

// Healthy reports the error from the most recent reload
func (fs *FileStore) Healthy(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.lastErr != nil {
		return fmt.Errorf("last reload failed: %w", fs.lastErr)
	}
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file are handled.
func (fs *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(fs.path), err)
	}

	target := filepath.Clean(fs.path)
	fs.logger.WithField("path", target).Info("Watching directory file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := fs.Reload(); err != nil {
				fs.logger.WithError(err).Warn("Directory reload failed, keeping previous snapshot")
				continue
			}
			fs.logger.WithField("path", target).Info("Directory reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fs.logger.WithError(err).Warn("Directory watcher error")
		}
	}
}

func (fs *FileStore) current() *snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap
}

// FindPrincipalsByEmail implements Directory
func (fs *FileStore) FindPrincipalsByEmail(ctx context.Context, email string) ([]Principal, error) {
	ps := fs.current().byEmail[NormalizeEmail(email)]
	if len(ps) == 0 {
		return nil, ErrNotFound
	}
	return clonePrincipals(ps), nil
}

// FindSiteBySlug implements Directory
func (fs *FileStore) FindSiteBySlug(ctx context.Context, slug string) (*Site, error) {
	site, ok := fs.current().bySlug[NormalizeSlug(slug)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSite(site), nil
}

// FindSiteByID implements Directory
func (fs *FileStore) FindSiteByID(ctx context.Context, id string) (*Site, error) {
	site, ok := fs.current().byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSite(site), nil
}
