package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vibelink/pkg/logging"
)

const (
	// authCodeTTL bounds how long an authorization code stays redeemable.
	authCodeTTL = 10 * time.Minute

	// codeCleanupInterval is how often expired codes are purged.
	codeCleanupInterval = time.Minute
)

// registeredClient is a client created through dynamic registration.
// Registrations live in memory only and vanish on restart.
type registeredClient struct {
	ID           string
	Name         string
	RedirectURIs []string
	CreatedAt    time.Time
}

// authCode is a pending authorization code awaiting redemption at the token
// endpoint. Codes are single-use: lookup removes them regardless of outcome.
type authCode struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Scope         string
	ExpiresAt     time.Time
}

// Server implements a self-contained OAuth 2.1 authorization server for a
// single gateway instance: dynamic client registration, auto-approved
// authorization with mandatory S256 PKCE, and HS256 bearer token issuance.
type Server struct {
	baseURL string
	issuer  *TokenIssuer

	mu      sync.Mutex
	clients map[string]*registeredClient
	codes   map[string]*authCode

	stopCleanup chan struct{}
	now         func() time.Time
}

// NewServer creates an authorization server whose advertised endpoints live
// under baseURL. The signing secret is generated fresh per process.
func NewServer(baseURL string) (*Server, error) {
	issuer, err := NewTokenIssuer(baseURL)
	if err != nil {
		return nil, err
	}
	s := &Server{
		baseURL:     strings.TrimRight(baseURL, "/"),
		issuer:      issuer,
		clients:     make(map[string]*registeredClient),
		codes:       make(map[string]*authCode),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}
	go s.cleanupLoop()
	return s, nil
}

// Stop terminates the background code cleanup goroutine.
func (s *Server) Stop() {
	close(s.stopCleanup)
}

// SetBaseURL updates the advertised base URL, used when the public tunnel
// URL only becomes known after the server is constructed.
func (s *Server) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimRight(baseURL, "/")
}

// BaseURL returns the currently advertised base URL.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// ValidateBearer verifies an access token and returns its claims.
func (s *Server) ValidateBearer(token string) (*TokenClaims, error) {
	return s.issuer.Validate(token)
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(codeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.purgeExpiredCodes()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Server) purgeExpiredCodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for code, rec := range s.codes {
		if now.After(rec.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("AuthZ", "Purged %d expired authorization codes", removed)
	}
}

// registrationRequest is the accepted subset of RFC 7591 client metadata.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// registrationResponse is returned from the registration endpoint.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HandleAuthorizationServerMetadata serves RFC 8414 discovery metadata.
func (s *Server) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := s.BaseURL()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"registration_endpoint":                 base + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{CodeChallengeMethodS256},
		"scopes_supported":                      []string{"read", "write"},
	})
}

// HandleProtectedResourceMetadata serves RFC 9728 metadata pointing resource
// clients back at this server.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := s.BaseURL()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":                 base,
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         []string{"read", "write"},
	})
}

// HandleRegister implements dynamic client registration. Any client may
// register; the returned credentials are only meaningful for this process.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "registration requires POST")
		return
	}

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", "request body is not valid JSON")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris is required")
		return
	}
	for _, raw := range req.RedirectURIs {
		if err := validateRedirectURI(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_redirect_uri", err.Error())
			return
		}
	}

	client := &registeredClient{
		ID:           fmt.Sprintf("mcp_client_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:16]),
		Name:         req.ClientName,
		RedirectURIs: req.RedirectURIs,
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	logging.Info("AuthZ", "Registered client %s (%s)", client.ID, client.Name)

	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.Name,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
	})
}

// HandleAuthorize implements the authorization endpoint. Requests from
// registered clients are auto-approved: there is no user to consent on a
// single-operator gateway, possession of the URL is the consent.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "authorization requires GET")
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	challenge := q.Get("code_challenge")
	challengeMethod := q.Get("code_challenge_method")
	state := q.Get("state")
	scope := q.Get("scope")

	s.mu.Lock()
	client, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown client_id")
		return
	}
	// Never redirect to an unvalidated URI: an attacker-supplied redirect
	// would receive the code.
	if !client.allowsRedirect(redirectURI) {
		writeError(w, http.StatusBadRequest, "invalid_request", "redirect_uri does not match registration")
		return
	}
	if responseType != "code" {
		s.redirectError(w, r, redirectURI, state, "unsupported_response_type")
		return
	}
	// PKCE is mandatory and S256 is the only accepted method. These are
	// hard failures, not redirected ones: a client that cannot do S256
	// should never receive a code.
	if challenge == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code_challenge is required")
		return
	}
	if challengeMethod != CodeChallengeMethodS256 {
		writeError(w, http.StatusBadRequest, "invalid_request", "only the S256 code_challenge_method is supported")
		return
	}

	code, err := randomToken(32)
	if err != nil {
		logging.Error("AuthZ", err, "Failed to generate authorization code")
		writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	s.mu.Lock()
	s.codes[code] = &authCode{
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		CodeChallenge: challenge,
		Scope:         scope,
		ExpiresAt:     s.now().Add(authCodeTTL),
	}
	s.mu.Unlock()

	logging.Debug("AuthZ", "Issued authorization code for client %s", clientID)

	target, _ := url.Parse(redirectURI)
	params := target.Query()
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// HandleToken implements the token endpoint for the authorization_code
// grant. Codes are consumed on lookup, so a failed exchange burns the code
// just like a successful one. All grant failures return the same generic
// invalid_grant error; details go to the log only.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "token exchange requires POST")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if grant := r.PostFormValue("grant_type"); grant != "authorization_code" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	code := r.PostFormValue("code")
	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	verifier := r.PostFormValue("code_verifier")

	s.mu.Lock()
	rec, ok := s.codes[code]
	if ok {
		delete(s.codes, code)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		logging.Warn("AuthZ", "Token exchange with unknown or reused code from client %q", clientID)
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	case s.now().After(rec.ExpiresAt):
		logging.Warn("AuthZ", "Token exchange with expired code from client %q", clientID)
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	case rec.ClientID != clientID:
		logging.Warn("AuthZ", "Token exchange client mismatch: code issued to %q, presented by %q", rec.ClientID, clientID)
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	case rec.RedirectURI != redirectURI:
		logging.Warn("AuthZ", "Token exchange redirect_uri mismatch for client %q", clientID)
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	case !VerifyS256(verifier, rec.CodeChallenge):
		logging.Warn("AuthZ", "Token exchange PKCE verification failed for client %q", clientID)
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	}

	token, expiresIn, err := s.issuer.Issue(clientID, rec.Scope)
	if err != nil {
		logging.Error("AuthZ", err, "Failed to issue access token for client %s", clientID)
		writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	logging.Info("AuthZ", "Issued access token for client %s", clientID)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       rec.Scope,
	})
}

func (c *registeredClient) allowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// redirectError reports a protocol error back through the validated
// redirect URI per RFC 6749 section 4.1.2.1.
func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "")
		return
	}
	params := target.Query()
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect URI %q is not a valid URL", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("http redirect URIs are only allowed for loopback hosts")
	default:
		return fmt.Errorf("redirect URI scheme %q is not allowed", u.Scheme)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("AuthZ", err, "Failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}
