/*
Package auth gates the mileage tracker behind an operator password.

PURPOSE:
  Single-operator session handling. Login compares the supplied password
  against a configured bcrypt hash and issues an expiring HS256 session
  token; every mutating request presents that token and is validated
  statelessly, so the server keeps no session table.

DISABLED MODE:
  When no password hash is configured the gate is disabled entirely
  (local/demo use). This is an explicit configuration state, not a fallback
  on error.
*/
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid session token")
	ErrExpiredToken       = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service issues and validates operator sessions.
type Service struct {
	passwordHash []byte
	jwtSecret    []byte
	tokenExp     time.Duration
}

// NewService creates the session service. An empty passwordHash disables
// the gate; a zero tokenExp defaults to 24 hours.
func NewService(passwordHash, jwtSecret string, tokenExp time.Duration) *Service {
	if tokenExp == 0 {
		tokenExp = 24 * time.Hour
	}
	return &Service{
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		tokenExp:     tokenExp,
	}
}

// Enabled reports whether a password is configured.
func (s *Service) Enabled() bool { return len(s.passwordHash) > 0 }

// HashPassword hashes a password for configuration storage.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Login checks the password and returns a session token with its expiry.
func (s *Service) Login(password string) (token string, expiresAt time.Time, err error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	expiresAt = time.Now().Add(s.tokenExp)
	claims := jwt.MapClaims{
		"sub": "operator",
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks a bearer token. Accepts either a bare token or an
// "Authorization: Bearer ..." header value.
func (s *Service) Validate(tokenString string) error {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer"))
	if tokenString == "" {
		return ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
