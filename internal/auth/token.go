package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenMissingClaims = errors.New("token is missing required claims")
)

// Identity is the caller resolved from a valid bearer token.
type Identity struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
}

// Claims is the JWT payload: sub carries the username, id the numeric user id.
type Claims struct {
	UserID int64 `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 access tokens with a single static secret.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}

	s := &TokenService{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for the user that expires ttl from now.
func (s *TokenService) Issue(username string, userID int64, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := expiryAt(now, ttl)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// expiryAt rounds now+ttl up to the next whole second. exp is encoded in
// seconds, so truncating would expire tokens before their full ttl.
func expiryAt(now time.Time, ttl time.Duration) time.Time {
	expiresAt := now.Add(ttl)
	if whole := expiresAt.Truncate(time.Second); !whole.Equal(expiresAt) {
		return whole.Add(time.Second)
	}
	return expiresAt
}

// Validate checks signature, algorithm and expiry, then requires sub and id.
func (s *TokenService) Validate(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		// exp is inclusive: a token is still valid at exactly its expiry second
		jwt.WithLeeway(time.Nanosecond),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" || claims.UserID <= 0 {
		return Identity{}, ErrTokenMissingClaims
	}

	return Identity{Username: claims.Subject, UserID: claims.UserID}, nil
}
