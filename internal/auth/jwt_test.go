package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	secret, err := GenerateSecureSecret()
	require.NoError(t, err)
	ti, err := NewTokenIssuer(secret, time.Hour)
	require.NoError(t, err)
	return ti
}

func TestIssueAndValidate(t *testing.T) {
	ti := newIssuer(t)

	token, err := ti.Issue("alice", RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "JWT состоит из трёх частей")

	claims, err := ti.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.True(t, claims.CanControl())
}

func TestValidate_Rejects(t *testing.T) {
	ti := newIssuer(t)
	other := newIssuer(t)

	foreign, err := other.Issue("mallory", RoleOperator)
	require.NoError(t, err)
	_, err = ti.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "чужая подпись")

	_, err = ti.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Просроченный токен
	token, err := ti.Issue("bob", RoleViewer)
	require.NoError(t, err)
	ti.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = ti.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestViewerCannotControl(t *testing.T) {
	ti := newIssuer(t)
	token, err := ti.Issue("carol", RoleViewer)
	require.NoError(t, err)
	claims, err := ti.Validate(token)
	require.NoError(t, err)
	assert.False(t, claims.CanControl())

	_, err = ti.Issue("dave", Role("root"))
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewTokenIssuer_Secrets(t *testing.T) {
	_, err := NewTokenIssuer("c2hvcnQ=", time.Hour) // "short"
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewTokenIssuer("%%%", time.Hour)
	assert.Error(t, err)

	ti, err := NewTokenIssuer("", 0)
	require.NoError(t, err)
	assert.Len(t, ti.secret, 32)
	assert.Equal(t, 24*time.Hour, ti.ttl)
}
