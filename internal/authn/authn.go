// Package authn implements the dashboard's single-account login via
// POST /auth/login: a constant-time password compare against the
// configured DASHBOARD_USERNAME/DASHBOARD_PASSWORD pair, followed by
// HS256 JWT issuance for internal/middleware's JWTMiddleware to
// validate on every subsequent /dashboard/* request.
package authn

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/partarstu/agentic-qa-framework/internal/orcherr"
)

// Authenticator holds the one configured dashboard account and the
// secret used to sign session tokens.
type Authenticator struct {
	username     string
	passwordHash []byte
	jwtSecret    string
	tokenTTL     time.Duration
}

// New hashes the configured plaintext password once at startup so
// Login never compares plaintext directly, even against a value held
// only in process memory.
func New(username, password, jwtSecret string, tokenTTL time.Duration) (*Authenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Authenticator{username: username, passwordHash: hash, jwtSecret: jwtSecret, tokenTTL: tokenTTL}, nil
}

// Login validates username/password and, on success, issues a signed
// session token. Any mismatch - wrong username or wrong password -
// returns the same orcherr.KindUnauthorized so the HTTP edge can't be
// used to enumerate valid usernames.
func (a *Authenticator) Login(username, password string) (string, error) {
	if username != a.username {
		// Still run the hash compare so a wrong username takes the same
		// time as a wrong password (bcrypt against the real hash).
		bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
		return "", orcherr.New(orcherr.KindUnauthorized, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", orcherr.New(orcherr.KindUnauthorized, "invalid username or password")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"username": a.username,
		"iat":      now.Unix(),
		"exp":      now.Add(a.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.jwtSecret))
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindProtocolError, "failed to sign session token", err)
	}
	return signed, nil
}
