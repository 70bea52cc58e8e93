package api

// ValidateRequest is the body of POST /callback/validate
type ValidateRequest struct {
	AccessToken string `json:"access_token"`
	Site        string `json:"site,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// ValidateResponse is returned by POST /callback/validate on success
type ValidateResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	// RedirectTo is redirect_uri with the grant in its fragment
	RedirectTo string `json:"redirect_to,omitempty"`
}

// DirectRequest is the body of POST /auth
type DirectRequest struct {
	Token string `json:"token"`
	Repo  string `json:"repo"`
}

// DirectResponse is returned by POST /auth on success
type DirectResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ErrorResponse is the body of every failure
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}
