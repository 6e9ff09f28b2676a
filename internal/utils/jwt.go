// Package utils holds helpers for bearer identity tokens.  Tokens are
// issued by the identity service; this backend only verifies them.
// NewIdentityToken exists for local development and tests.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller.
type Identity struct {
	ID    uint64
	Email string
}

// IdentityClaims are the JWT claims of an identity token.  The user id
// travels in the standard sub claim.
type IdentityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AccessToken is a signed token along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewIdentityToken signs an HS256 token for userID and email that
// expires after ttl.
func NewIdentityToken(secret string, userID uint64, email string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseIdentity verifies raw with secret and returns the caller.  Only
// HMAC signed tokens with a numeric subject are accepted.
func ParseIdentity(secret, raw string) (Identity, error) {
	var claims IdentityClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return Identity{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return Identity{ID: id, Email: claims.Email}, nil
}
