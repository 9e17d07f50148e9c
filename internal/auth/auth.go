// Package auth issues and verifies access tokens for the shared app
// password and checks the admin password.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shed-tournament/internal/config"
)

// Authentication errors.
var (
	ErrWrongPassword    = errors.New("wrong password")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

const issuer = "shed-tournament"

// Claims are the access token claims. The app has a single shared login,
// so there is no subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Authenticator implements the app login and the admin gate.
type Authenticator struct {
	appPassword   string
	adminPassword string
	secret        []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewAuthenticator creates an Authenticator from the auth configuration.
func NewAuthenticator(cfg *config.AuthConfig) *Authenticator {
	return &Authenticator{
		appPassword:   cfg.AppPassword,
		adminPassword: cfg.AdminPassword,
		secret:        []byte(cfg.SecretKey),
		ttl:           cfg.TokenTTL,
		now:           time.Now,
	}
}

// Authorize reports whether secret is the admin password. An unset admin
// password authorizes nobody.
func (a *Authenticator) Authorize(secret string) bool {
	return a.adminPassword != "" && equal(secret, a.adminPassword)
}

// Login exchanges the app password for a bearer token.
func (a *Authenticator) Login(password string) (*Token, error) {
	if a.appPassword == "" || !equal(password, a.appPassword) {
		return nil, ErrWrongPassword
	}

	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "bearer"}, nil
}

// VerifyToken checks a bearer token's signature, issuer and expiry.
func (a *Authenticator) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
