// Package config loads repogate configuration from environment variables.
//
// Every setting has a default except the shared credential and the
// identity/directory locations, which LoadConfig validates.
//
// Server settings:
//
//	REPOGATE_HOST="0.0.0.0"
//	REPOGATE_PORT="8080"
//	REPOGATE_HEALTH_PORT="9090"
//	REPOGATE_PUBLIC_URL="https://auth.example.com"
//
// Credential settings:
//
//	REPOGATE_SHARED_TOKEN="..."     # required
//	REPOGATE_TOKEN_TTL="8h"
//
// Identity settings:
//
//	REPOGATE_IDENTITY_MODE="userinfo"  # userinfo, oidc, chain
//	REPOGATE_IDENTITY_URL="https://project.supabase.co"
//	REPOGATE_IDENTITY_API_KEY="public-anon-key"
//
// Directory settings:
//
//	REPOGATE_DIRECTORY_TYPE="postgres"  # postgres, sqlite, file
//	REPOGATE_DIRECTORY_DSN="postgres://..."
//	REPOGATE_CACHE_ENABLED="true"
//	REPOGATE_REDIS_URL="redis://localhost:6379/0"
//
// Redirect policy:
//
//	REPOGATE_ALLOWED_REDIRECTS="https://cms.example.com/admin/"
//	REPOGATE_STRICT_REDIRECTS="false"
//	REPOGATE_REQUIRE_SITE_SCOPE="false"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
