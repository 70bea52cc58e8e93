// Package cli provides the repogate-cli tool for provisioning the directory.
//
// # Overview
//
// The server only reads the directory. Operators use this CLI to create the
// schema, import a YAML directory file into PostgreSQL or SQLite, and manage
// individual grants.
//
// # Commands
//
// migrate: Create the directory tables
//
//	repogate-cli migrate -dsn postgres://localhost/repogate
//
// import: Upsert every site and principal from a YAML file
//
//	repogate-cli import -dsn postgres://localhost/repogate -file directory.yaml
//
// site: Create or update one site by slug. Existing grants follow the site.
//
//	repogate-cli site -slug docs -repo acme/docs -name "Acme Docs" -redirects https://docs.acme.test/admin/
//
// sites: List sites with their principals and redirect allow-lists
//
//	repogate-cli sites
//
// grant / revoke: Manage one grant
//
//	repogate-cli grant -email alice@example.com -site docs -role admin
//	repogate-cli revoke -email alice@example.com -site docs
//
// check: Run the repository authorization check offline. Exits non-zero on deny.
//
//	repogate-cli check -email alice@example.com -repo acme/docs
//
// # Connection
//
// Every command accepts -driver (postgres or sqlite3) and -dsn. They default
// to REPOGATE_DIRECTORY_TYPE and REPOGATE_DIRECTORY_DSN.
//
// When the servers share a Redis cache, pass -redis-url (REPOGATE_REDIS_URL)
// so site, grant and revoke drop the cached entries they changed. Without it
// servers see writes once their cache TTL expires.
package cli
