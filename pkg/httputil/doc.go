// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "Missing access_token")
//	httputil.WriteErrorMessage(w, http.StatusUnauthorized, "User not authorized")
//	httputil.WriteNotFoundError(w, "Site not found")
//
// Error bodies are always {"error": "<message>"}.
//
// # Request Parsing
//
//	var req DirectRequest
//	httputil.ParseJSONLenient(r, &req) // malformed bodies decode as empty
//	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware([]string{"*"}),
//		httputil.MaxBytesMiddleware(64 << 10),
//	)(router)
package httputil
