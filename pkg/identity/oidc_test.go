package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://issuer.example.com"

// signRS256 builds a compact JWS over claims
func signRS256(t *testing.T, key *rsa.PrivateKey, claims map[string]interface{}) string {
	t.Helper()
	enc := base64.RawURLEncoding

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": "test"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return signingInput + "." + enc.EncodeToString(sig)
}

func newTestOIDCValidator(t *testing.T, requireVerified bool) (*OIDCValidator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: "repogate"})

	return NewOIDCValidatorWithVerifier(verifier, testIssuer, requireVerified), key
}

func baseClaims() map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss":            testIssuer,
		"aud":            "repogate",
		"sub":            "user-123",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"email":          "Carol@Example.com",
		"email_verified": true,
	}
}

func TestOIDCValidator_Validate(t *testing.T) {
	v, key := newTestOIDCValidator(t, true)

	t.Run("valid token", func(t *testing.T) {
		id, err := v.Validate(context.Background(), signRS256(t, key, baseClaims()))
		require.NoError(t, err)
		assert.Equal(t, "carol@example.com", id.Email)
		assert.Equal(t, "user-123", id.Subject)
		assert.Equal(t, testIssuer, id.Provider)
		assert.True(t, id.EmailVerified)
	})

	t.Run("string email_verified", func(t *testing.T) {
		claims := baseClaims()
		claims["email_verified"] = "true"
		id, err := v.Validate(context.Background(), signRS256(t, key, claims))
		require.NoError(t, err)
		assert.True(t, id.EmailVerified)
	})

	rejections := []struct {
		name   string
		mutate func(c map[string]interface{})
	}{
		{"expired", func(c map[string]interface{}) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{"wrong audience", func(c map[string]interface{}) { c["aud"] = "someone-else" }},
		{"wrong issuer", func(c map[string]interface{}) { c["iss"] = "https://evil.example.com" }},
		{"missing email", func(c map[string]interface{}) { delete(c, "email") }},
		{"unverified email", func(c map[string]interface{}) { c["email_verified"] = false }},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			tt.mutate(claims)
			_, err := v.Validate(context.Background(), signRS256(t, key, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("foreign signing key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		_, err = v.Validate(context.Background(), signRS256(t, other, baseClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := v.Validate(context.Background(), "opaque-access-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Validate(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestOIDCValidator_UnverifiedAllowed(t *testing.T) {
	v, key := newTestOIDCValidator(t, false)

	claims := baseClaims()
	delete(claims, "email_verified")

	id, err := v.Validate(context.Background(), signRS256(t, key, claims))
	require.NoError(t, err)
	assert.False(t, id.EmailVerified)
	assert.Equal(t, "oidc", v.Name())
}

func TestNewOIDCValidator_RequiresConfig(t *testing.T) {
	_, err := NewOIDCValidator(context.Background(), OIDCConfig{ClientID: "x"}, nil)
	assert.Error(t, err)

	_, err = NewOIDCValidator(context.Background(), OIDCConfig{IssuerURL: testIssuer}, nil)
	assert.Error(t, err)
}
