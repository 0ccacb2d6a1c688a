// Package auth handles sign-in against GitHub: the OAuth handshake, the
// signed state that protects it, and the guard handlers use to decide
// whether a request has a signed-in user.
//
// SIGN-IN FLOW OVERVIEW:
//  1. User visits /github_login. We mint a nonce, keep it in the session and
//     send GitHub a signed state token wrapping it.
//  2. GitHub calls back /github/authorized with a code and our state.
//  3. We check the state signature AND that its nonce is the one in the
//     session, then exchange the code for an access token.
//  4. The token and the user's login/name go into the session. Every later
//     request is authenticated by the session alone.
//
// STATE TOKENS:
// The state is an HS256 JWT whose subject is the nonce. It expires after
// ten minutes, so a login page left open for hours cannot complete.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer   = "pskb"
	stateLifetime = 10 * time.Minute
)

// StateSigner issues and verifies OAuth state tokens.
type StateSigner struct {
	secret []byte
}

// NewStateSigner creates a StateSigner. The secret must be at least 16
// characters. Example: JWT_SECRET=$(openssl rand -hex 32)
func NewStateSigner(secret string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret)}, nil
}

// NewNonce returns a fresh, globally unique nonce.
func NewNonce() string {
	return xid.New().String()
}

// Issue signs nonce into a state token valid for ten minutes.
func (s *StateSigner) Issue(nonce string) (string, error) {
	return s.IssueWithDuration(nonce, stateLifetime)
}

// IssueWithDuration signs nonce with a custom lifetime. Tests use negative
// durations to produce expired states.
func (s *StateSigner) IssueWithDuration(nonce string, d time.Duration) (string, error) {
	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    stateIssuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// Verify checks a state token and returns the nonce inside it.
//
// jwt.WithValidMethods pins HS256, which rules out "alg: none" tokens.
func (s *StateSigner) Verify(state string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		state,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: state expired")
		}
		return "", fmt.Errorf("auth: invalid state: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return "", errors.New("auth: state has no nonce")
	}
	return c.Subject, nil
}
