package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partarstu/agentic-qa-framework/internal/orcherr"
)

func TestLoginWithCorrectCredentialsIssuesValidToken(t *testing.T) {
	a, err := New("admin", "s3cret", "test-secret", time.Hour)
	require.NoError(t, err)

	tok, err := a.Login("admin", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "admin", claims["username"])
}

func TestLoginWithWrongPasswordIsUnauthorized(t *testing.T) {
	a, err := New("admin", "s3cret", "test-secret", time.Hour)
	require.NoError(t, err)

	_, err = a.Login("admin", "wrong")
	require.Error(t, err)
	oerr, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindUnauthorized, oerr.Kind)
}

func TestLoginWithWrongUsernameIsUnauthorized(t *testing.T) {
	a, err := New("admin", "s3cret", "test-secret", time.Hour)
	require.NoError(t, err)

	_, err = a.Login("someone-else", "s3cret")
	require.Error(t, err)
	oerr, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindUnauthorized, oerr.Kind)
}
