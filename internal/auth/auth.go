// Package auth issues and checks the HS256 tokens guarding the capture
// routes. Accounts come from a static users file.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const MinSecretLen = 32

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims
	Username    string `json:"username"`
	LastUpdated string `json:"lastUpdated"`
}

type Authenticator struct {
	secret []byte
	users  *Users
	now    func() time.Time
}

func New(secret string, users *Users) (*Authenticator, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLen)
	}
	if users == nil {
		return nil, errors.New("auth: no users")
	}
	return &Authenticator{secret: []byte(secret), users: users, now: time.Now}, nil
}

// Login checks the password and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, error) {
	u, ok := a.users.Lookup(username)
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.Issue(u)
}

func (a *Authenticator) Issue(u *User) (string, error) {
	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.Validity())),
		},
		Username:    u.Username,
		LastUpdated: u.Stamp(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses tokenStr, pinned to HS256, and resolves its user. Tokens of
// removed users or issued before the user's last update are rejected with
// ErrInvalidCredentials.
func (a *Authenticator) Verify(tokenStr string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	u, ok := a.users.Lookup(claims.Username)
	if !ok || claims.LastUpdated != u.Stamp() {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
