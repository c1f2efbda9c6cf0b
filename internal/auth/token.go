package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

// Claims defines the structure of the data stored inside the JWT.
type Claims struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Authenticator validates the signed credential presented during the
// connection handshake. Issuance lives with the authentication controller;
// IssueToken is the signing twin kept here for that collaborator and for tests.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
}

func New(secret string, tokenTTL time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), tokenTTL: tokenTTL}
}

// IssueToken creates a signed JWT for a specific user.
func (a *Authenticator) IssueToken(id identity.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      id.UserID,
		Role:        string(id.Role),
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "carelink",
		},
	}

	// HS256 (HMAC with SHA256), signed with the server's secret key.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses and verifies signature and expiry of a JWT string and
// derives the connection Identity from its claims. Pure verification, no
// side effects.
func (a *Authenticator) Validate(tokenString string) (identity.Identity, error) {
	if tokenString == "" {
		return identity.Identity{}, fmt.Errorf("missing credential: %w", apperr.ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%v: %w", err, apperr.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return identity.Identity{}, fmt.Errorf("invalid claims: %w", apperr.ErrUnauthorized)
	}

	id := identity.Identity{
		UserID:      claims.UserID,
		Role:        identity.Role(claims.Role),
		DisplayName: claims.DisplayName,
	}
	if id.UserID == "" || !id.Role.Valid() {
		return identity.Identity{}, fmt.Errorf("incomplete claims: %w", apperr.ErrUnauthorized)
	}
	return id, nil
}
