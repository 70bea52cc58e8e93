package httputil

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

type exchangeBody struct {
	Token string `json:"token"`
	Repo  string `json:"repo"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"token": "t", "repo": "acme/site"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "empty body",
			body:        ``,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth", bytes.NewBufferString(tt.body))
			var dest exchangeBody

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "acme/site", dest.Repo)
			}
		})
	}
}

func TestParseJSONLenient(t *testing.T) {
	t.Run("malformed body leaves zero value", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/auth", bytes.NewBufferString(`not json`))
		var dest exchangeBody

		ok := ParseJSONLenient(req, &dest)

		assert.False(t, ok)
		assert.Empty(t, dest.Token)
		assert.Empty(t, dest.Repo)
	})

	t.Run("valid body decodes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/auth", bytes.NewBufferString(`{"token":"abc"}`))
		var dest exchangeBody

		assert.True(t, ParseJSONLenient(req, &dest))
		assert.Equal(t, "abc", dest.Token)
	})
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/site/acme", nil)
	req = mux.SetURLVars(req, map[string]string{"slug": "acme"})

	val, err := ParsePathString(req, "slug")
	assert.NoError(t, err)
	assert.Equal(t, "acme", val)

	_, err = ParsePathString(req, "missing")
	assert.Error(t, err)
}

func TestParsePathStringOrError(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/site/", nil)
	w := httptest.NewRecorder()

	_, ok := ParsePathStringOrError(w, req, "slug")

	assert.False(t, ok)
	assert.Equal(t, 400, w.Code)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/auth?site=%20acme%20&empty=", nil)

	assert.Equal(t, "acme", ParseQueryString(req, "site", ""))
	assert.Equal(t, "fallback", ParseQueryString(req, "empty", "fallback"))
	assert.Equal(t, "", ParseQueryString(req, "missing", ""))
}
