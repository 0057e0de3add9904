package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"vibelink/internal/authz"
	"vibelink/pkg/logging"
)

// exemptPaths are reachable without a bearer token. The set is fixed: it is
// exactly the surface a client needs to discover the authorization server
// and complete the flow, plus the health probe.
var exemptPaths = map[string]bool{
	"/.well-known/oauth-authorization-server": true,
	"/.well-known/oauth-protected-resource":   true,
	"/register":  true,
	"/authorize": true,
	"/token":     true,
	"/health":    true,
}

// Options configure gateway behavior.
type Options struct {
	// DisableAuth serves every path without bearer validation. The OAuth
	// endpoints stay mounted so clients probing for them get real answers.
	DisableAuth bool
}

// Gateway fronts the tool server with bearer-token enforcement and hosts
// the authorization server's HTTP surface.
type Gateway struct {
	router  *mux.Router
	authz   *authz.Server
	backend http.Handler
	opts    Options
}

// New builds a gateway routing OAuth endpoints to as and every other
// request, once authenticated, to backend.
func New(as *authz.Server, backend http.Handler, opts Options) *Gateway {
	g := &Gateway{
		router:  mux.NewRouter(),
		authz:   as,
		backend: backend,
		opts:    opts,
	}

	g.router.HandleFunc("/.well-known/oauth-authorization-server", as.HandleAuthorizationServerMetadata).Methods(http.MethodGet)
	g.router.HandleFunc("/.well-known/oauth-protected-resource", as.HandleProtectedResourceMetadata).Methods(http.MethodGet)
	g.router.HandleFunc("/register", as.HandleRegister).Methods(http.MethodPost)
	g.router.HandleFunc("/authorize", as.HandleAuthorize).Methods(http.MethodGet)
	g.router.HandleFunc("/token", as.HandleToken).Methods(http.MethodPost)
	g.router.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	g.router.PathPrefix("/").Handler(http.HandlerFunc(g.handleProtected))

	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleProtected enforces bearer authentication before forwarding the
// request, untouched, to the backend.
func (g *Gateway) handleProtected(w http.ResponseWriter, r *http.Request) {
	if g.opts.DisableAuth {
		g.backend.ServeHTTP(w, r)
		return
	}

	token, ok := bearerToken(r)
	if !ok {
		logging.Debug("Gateway", "Rejected unauthenticated request to %s", r.URL.Path)
		g.unauthorized(w, "")
		return
	}
	if _, err := g.authz.ValidateBearer(token); err != nil {
		logging.Debug("Gateway", "Rejected request to %s with invalid token: %v", r.URL.Path, err)
		g.unauthorized(w, "invalid_token")
		return
	}

	g.backend.ServeHTTP(w, r)
}

// ExemptPath reports whether path is served without authentication.
func ExemptPath(path string) bool {
	return exemptPaths[path]
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func (g *Gateway) unauthorized(w http.ResponseWriter, errCode string) {
	challenge := fmt.Sprintf("Bearer resource_metadata=%q", g.authz.BaseURL()+"/.well-known/oauth-protected-resource")
	if errCode != "" {
		challenge += fmt.Sprintf(", error=%q", errCode)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
