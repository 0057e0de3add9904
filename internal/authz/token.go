package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the fixed lifetime of every issued access token. There is no
// refresh token; clients repeat the authorization flow when a token lapses.
const TokenTTL = time.Hour

// TokenClaims are the claims carried by issued access tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// TokenIssuer signs and validates HS256 access tokens with a per-process
// secret. Restarting the server invalidates all outstanding tokens, which is
// the intended behavior for a session-scoped gateway.
type TokenIssuer struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with a fresh random signing secret.
func NewTokenIssuer(issuer string) (*TokenIssuer, error) {
	secret, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return &TokenIssuer{
		issuer: issuer,
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}, nil
}

// Issue signs a new access token for clientID. It returns the signed token
// and its lifetime in seconds.
func (ti *TokenIssuer) Issue(clientID, scope string) (string, int64, error) {
	now := ti.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
		ClientID: clientID,
		Scope:    scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, int64(ti.ttl.Seconds()), nil
}

// Validate parses and verifies a bearer token, returning its claims.
// Expired tokens, tokens signed with the wrong key, and tokens using any
// algorithm other than HS256 all fail.
func (ti *TokenIssuer) Validate(raw string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
	)
	claims := &TokenClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
