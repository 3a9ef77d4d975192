// Package auth provides the credential primitives of the API: bcrypt password
// hashing, JWT bearer tokens, the bearer-token middleware and the optional
// GitHub OAuth provider.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Client POSTs username (email) + password to /auth/access-token
//  2. Server verifies the password hash and issues a signed JWT
//  3. Client sends "Authorization: Bearer <jwt>" on every later request
//  4. RequireAuth validates the JWT and puts the user ID in the request context
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"userID","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The server can verify the signature without any DB lookup — just the secret.
// There is no server-side revocation: a token is valid until it expires.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is written to the "iss" claim and required on validation, so
// tokens minted by another service sharing the secret are rejected.
const Issuer = "crud-boilerplate"

// MinSecretLength is the shortest HMAC secret NewTokenService accepts.
const MinSecretLength = 16

// ErrInvalidToken is wrapped by every error Verify returns. Callers check it
// with errors.Is and never need to know which check failed.
var ErrInvalidToken = errors.New("invalid token")

// signingMethods are the symmetric algorithms a deployment may configure.
var signingMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// SupportedAlgorithm reports whether alg can be passed to NewTokenService.
func SupportedAlgorithm(alg string) bool {
	_, ok := signingMethods[alg]
	return ok
}

// TokenService handles JWT creation and validation.
//
// The secret, algorithm and default lifetime are fixed at construction and
// never change afterwards, so one TokenService is safe to share between all
// request goroutines.
type TokenService struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
}

// NewTokenService creates a TokenService.
//
// secret should be at least 32 bytes of random data in production
// (e.g. APP_SECRET_KEY=$(openssl rand -hex 32)); anything under
// MinSecretLength is rejected. algorithm is one of HS256, HS384, HS512.
// ttl is the lifetime Generate gives its tokens.
func NewTokenService(secret, algorithm string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	method, ok := signingMethods[algorithm]
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", algorithm)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token lifetime must be positive")
	}
	return &TokenService{secret: []byte(secret), method: method, ttl: ttl}, nil
}

// TTL returns the lifetime used by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate issues an access token for userID with the configured lifetime.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.Issue(userID, s.ttl)
}

// Issue creates and signs a token for subject that expires at now+ttl.
//
// A negative ttl yields a token that is already expired; tests use that to
// exercise the expiry check without sleeping.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()

	c := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    Issuer,
	}

	// jwt.NewWithClaims creates an unsigned token with the given algorithm.
	// SignedString(key) signs it and returns the complete JWT string.
	signed, err := jwt.NewWithClaims(s.method, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies a JWT string and returns its subject.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Algorithm is exactly the configured one (prevents "alg":"none" and
//     algorithm confusion attacks)
//   - Signature is valid (wasn't tampered with)
//   - Token carries an expiry and it is in the future
//   - Issuer matches
//
// Every failure wraps ErrInvalidToken. Untrusted input never panics.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: %w: token expired", ErrInvalidToken)
		}
		return "", fmt.Errorf("auth: %w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("auth: %w", ErrInvalidToken)
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: %w: token has no subject", ErrInvalidToken)
	}

	return c.Subject, nil
}
