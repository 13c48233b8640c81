package remote

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken indicates that no bearer token is configured.
	ErrMissingToken = errors.New("remote: bearer token required")
	// ErrUnparsableToken indicates the bearer token is not a well-formed JWT.
	ErrUnparsableToken = errors.New("remote: bearer token is not a parsable JWT")
)

// Credentials is the opaque credential bag forwarded verbatim to the remote
// API. Any combination of token, nonce and basic-auth pair may be present.
type Credentials struct {
	Token    string
	Nonce    string
	Username string
	Password string
}

// Empty reports whether no credential material is configured.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.Nonce == "" && c.Username == ""
}

// TokenClaims carries the subset of JWT claims the client inspects. The token
// is never verified locally; the remote API is the verifier.
type TokenClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// PeekToken parses the bearer token without verifying its signature and
// returns the embedded claims. Used to discover the user identity carried by
// an opaque token when no explicit user id is configured.
func (c Credentials) PeekToken() (TokenClaims, error) {
	token := strings.TrimSpace(c.Token)
	if token == "" {
		return TokenClaims{}, ErrMissingToken
	}
	claims := &TokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, errors.Join(ErrUnparsableToken, err)
	}
	return *claims, nil
}

// UserID returns the user identifier embedded in the bearer token, falling
// back to the subject claim when no user_id claim is present. Zero means the
// token carries no usable identity.
func (c Credentials) UserID() int64 {
	claims, err := c.PeekToken()
	if err != nil {
		return 0
	}
	if claims.UserID > 0 {
		return claims.UserID
	}
	if subject := strings.TrimSpace(claims.Subject); subject != "" {
		if parsed, err := strconv.ParseInt(subject, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

// Expired reports whether the bearer token carries an expiry in the past.
// Tokens without an expiry claim, or tokens that are not JWTs, report false.
func (c Credentials) Expired(now time.Time) bool {
	claims, err := c.PeekToken()
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}
