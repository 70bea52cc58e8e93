package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Supported SQL drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ConnectionConfig holds database pool settings
type ConnectionConfig struct {
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConnectionConfig returns pool defaults for driver
func DefaultConnectionConfig(driver, dsn string) ConnectionConfig {
	cfg := ConnectionConfig{
		Driver:      driver,
		DSN:         dsn,
		MaxConns:    10,
		MinConns:    2,
		Timeout:     5 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
	// An in-memory SQLite database exists per connection
	if driver == DriverSQLite {
		cfg.MaxConns = 1
		cfg.MinConns = 1
		cfg.MaxLifetime = 0
		cfg.MaxIdleTime = 0
	}
	return cfg
}

// OpenDB opens and pings a database pool
func OpenDB(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		repo TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT '',
		accent_color TEXT NOT NULL DEFAULT '',
		allowed_redirects TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS authorized_users (
		email TEXT NOT NULL,
		site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('admin', 'editor')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (email, site_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_authorized_users_email ON authorized_users (email)`,
}

// SQLStore is a Directory backed by PostgreSQL or SQLite
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an open database. driver selects placeholder syntax.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// DB exposes the pool for health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the directory tables if they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate directory schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FindPrincipalsByEmail returns every site grant for the address
func (s *SQLStore) FindPrincipalsByEmail(ctx context.Context, email string) ([]Principal, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT email, site_id, role FROM authorized_users WHERE email = ? ORDER BY site_id`), email)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		var role string
		if err := rows.Scan(&p.Email, &p.SiteID, &role); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		p.Email = NormalizeEmail(p.Email)
		p.Role = Role(role)
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principals: %w", err)
	}

	if len(principals) == 0 {
		return nil, ErrNotFound
	}
	return principals, nil
}

const siteColumns = `id, slug, repo, display_name, logo_url, accent_color, allowed_redirects`

// FindSiteBySlug looks a site up by slug
func (s *SQLStore) FindSiteBySlug(ctx context.Context, slug string) (*Site, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+siteColumns+` FROM sites WHERE slug = ?`), slug)
	return scanSite(row)
}

// FindSiteByID looks a site up by ID
func (s *SQLStore) FindSiteByID(ctx context.Context, id string) (*Site, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+siteColumns+` FROM sites WHERE id = ?`), id)
	return scanSite(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row rowScanner) (*Site, error) {
	var site Site
	var redirects string
	err := row.Scan(&site.ID, &site.Slug, &site.Repo, &site.DisplayName, &site.LogoURL, &site.AccentColor, &redirects)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan site: %w", err)
	}
	site.AllowedRedirects = splitLines(redirects)
	return &site, nil
}

// ListSites returns every site ordered by slug
func (s *SQLStore) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// ListPrincipals returns the grants for one site ordered by email
func (s *SQLStore) ListPrincipals(ctx context.Context, siteID string) ([]Principal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT email, site_id, role FROM authorized_users WHERE site_id = ? ORDER BY email`), siteID)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		var role string
		if err := rows.Scan(&p.Email, &p.SiteID, &role); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		p.Role = Role(role)
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const upsertSiteSQL = `
	INSERT INTO sites (id, slug, repo, display_name, logo_url, accent_color, allowed_redirects)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (slug) DO UPDATE SET
		repo = excluded.repo,
		display_name = excluded.display_name,
		logo_url = excluded.logo_url,
		accent_color = excluded.accent_color,
		allowed_redirects = excluded.allowed_redirects
	RETURNING id`

const upsertPrincipalSQL = `
	INSERT INTO authorized_users (email, site_id, role)
	VALUES (?, ?, ?)
	ON CONFLICT (email, site_id) DO UPDATE SET role = excluded.role`

// UpsertSite creates a site or updates the one with the same slug and
// returns the stored record
func (s *SQLStore) UpsertSite(ctx context.Context, site Site) (*Site, error) {
	return s.upsertSite(ctx, s.db, site)
}

func (s *SQLStore) upsertSite(ctx context.Context, q querier, site Site) (*Site, error) {
	site.Slug = NormalizeSlug(site.Slug)
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if site.ID == "" {
		site.ID = uuid.NewString()
	}

	var id string
	err := q.QueryRowContext(ctx, s.rebind(upsertSiteSQL),
		site.ID, site.Slug, site.Repo, site.DisplayName, site.LogoURL, site.AccentColor,
		strings.Join(site.AllowedRedirects, "\n"),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert site %s: %w", site.Slug, err)
	}

	site.ID = id
	return &site, nil
}

// UpsertPrincipal grants an email a role on a site, replacing any existing role
func (s *SQLStore) UpsertPrincipal(ctx context.Context, p Principal) error {
	if _, err := s.FindSiteByID(ctx, p.SiteID); err != nil {
		return fmt.Errorf("site %s: %w", p.SiteID, err)
	}
	return s.upsertPrincipal(ctx, s.db, p)
}

func (s *SQLStore) upsertPrincipal(ctx context.Context, q querier, p Principal) error {
	p.Email = NormalizeEmail(p.Email)
	if p.Email == "" {
		return fmt.Errorf("principal email is required")
	}
	role, err := ParseRole(string(p.Role))
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, s.rebind(upsertPrincipalSQL), p.Email, p.SiteID, string(role)); err != nil {
		return fmt.Errorf("upsert principal %s: %w", p.Email, err)
	}
	return nil
}

// DeletePrincipal removes a grant. A missing grant yields ErrNotFound.
func (s *SQLStore) DeletePrincipal(ctx context.Context, email, siteID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM authorized_users WHERE email = ? AND site_id = ?`), NormalizeEmail(email), siteID)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Import upserts every site and principal of a document in one transaction
func (s *SQLStore) Import(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	ids := make(map[string]string, len(doc.Sites))
	for _, site := range doc.Sites {
		stored, err := s.upsertSite(ctx, tx, site)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		ids[stored.Slug] = stored.ID
	}

	for _, p := range doc.Principals {
		err := s.upsertPrincipal(ctx, tx, Principal{
			Email:  p.Email,
			SiteID: ids[NormalizeSlug(p.Site)],
			Role:   Role(p.Role),
		})
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
