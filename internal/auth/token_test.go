package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

func TestValidate_RoundTrip(t *testing.T) {
	req := require.New(t)
	a := New("test-secret", time.Hour)
	id := identity.Identity{UserID: "u-1", Role: identity.RoleClinician, DisplayName: "Dr. Osei"}

	// Given a freshly issued token
	token, err := a.IssueToken(id)
	req.NoError(err)

	// When it is validated
	got, err := a.Validate(token)

	// Then the identity round-trips
	req.NoError(err)
	req.Equal(id, got)
}

func TestValidate_MissingToken(t *testing.T) {
	req := require.New(t)
	a := New("test-secret", time.Hour)

	_, err := a.Validate("")
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestValidate_ExpiredToken(t *testing.T) {
	req := require.New(t)
	a := New("test-secret", -time.Minute)
	token, err := a.IssueToken(identity.Identity{UserID: "u-1", Role: identity.RolePatient})
	req.NoError(err)

	_, err = a.Validate(token)
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestValidate_WrongSecret(t *testing.T) {
	req := require.New(t)
	issuer := New("secret-a", time.Hour)
	verifier := New("secret-b", time.Hour)
	token, err := issuer.IssueToken(identity.Identity{UserID: "u-1", Role: identity.RolePatient})
	req.NoError(err)

	_, err = verifier.Validate(token)
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestValidate_UnknownRole(t *testing.T) {
	req := require.New(t)
	a := New("test-secret", time.Hour)
	token, err := a.IssueToken(identity.Identity{UserID: "u-1", Role: identity.Role("janitor")})
	req.NoError(err)

	_, err = a.Validate(token)
	req.ErrorIs(err, apperr.ErrUnauthorized)
}
