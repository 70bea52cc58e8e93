package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, errors.New("test error"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"test error"}`, w.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "Missing access_token") }, 400, `{"error":"Missing access_token"}`},
		{"unauthorized", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusUnauthorized, "User not authorized") }, 401, `{"error":"User not authorized"}`},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "Site not found") }, 404, `{"error":"Site not found"}`},
		{"method not allowed", func(w http.ResponseWriter) { WriteMethodNotAllowed(w) }, 405, `{"error":"method not allowed"}`},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("internal server error")) }, 500, `{"error":"internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	assert.NoError(t, WriteSuccess(w, map[string]bool{"success": true}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoStore(t *testing.T) {
	w := httptest.NewRecorder()

	NoStore(w)

	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
}
