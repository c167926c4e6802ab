// Package auth verifies the credential presented when a chat connection or a
// REST request is opened, and resolves it to a known user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/domain/auth_errors"
)

// Claims are the JWT claims relay issues and accepts.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens and resolves their subject through the
// user repository. It has no side effects on failure.
type Authenticator struct {
	secret []byte
	users  domain.UserRepository
	issuer string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithIssuer sets the iss claim on issued tokens.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = issuer
	}
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates an Authenticator using the shared HMAC secret.
func NewAuthenticator(secret []byte, users domain.UserRepository, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret: secret,
		users:  users,
		issuer: "relay",
		now:    time.Now,
		logger: slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates the token and returns the user it names. Every error
// wraps auth_errors.ErrAuthentication, except repository failures other than
// not-found, which are returned as-is so callers can tell an outage from a
// bad credential.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := a.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, auth_errors.ErrUnknownUser
		}
		return nil, fmt.Errorf("resolve user %s: %w", claims.UserID, err)
	}
	if user == nil {
		return nil, auth_errors.ErrUnknownUser
	}
	return user, nil
}

// Verify checks signature and expiry without touching the repository.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth_errors.ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth_errors.ErrTokenExpired
		}
		a.logger.Debug("token rejected", "error", err)
		return nil, auth_errors.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, auth_errors.ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for userID that expires after ttl.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromHeader extracts a bearer token from an Authorization header value.
func TokenFromHeader(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
