package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func testUsers(t *testing.T, lastUpdated string) *Users {
	t.Helper()
	u, err := NewUser("alice", "hunter2", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	if lastUpdated != "" {
		u.LastUpdated = lastUpdated
	}
	us, err := NewUsers([]User{u})
	require.NoError(t, err)
	return us
}

func TestLoginAndVerify(t *testing.T) {
	a, err := New(secret, testUsers(t, ""))
	require.NoError(t, err)

	tok, err := a.Login("alice", "hunter2")
	require.NoError(t, err)

	u, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 30*24*time.Hour, u.Validity())
}

func TestLoginRejects(t *testing.T) {
	a, err := New(secret, testUsers(t, ""))
	require.NoError(t, err)

	_, err = a.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login("mallory", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRejectsStaleStamp(t *testing.T) {
	old, err := New(secret, testUsers(t, "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	tok, err := old.Login("alice", "hunter2")
	require.NoError(t, err)

	rotated, err := New(secret, testUsers(t, "2025-06-01T00:00:00Z"))
	require.NoError(t, err)
	_, err = rotated.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRejectsExpired(t *testing.T) {
	a, err := New(secret, testUsers(t, ""))
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(-31 * 24 * time.Hour) }
	tok, err := a.Login("alice", "hunter2")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyPinsAlgorithm(t *testing.T) {
	us := testUsers(t, "")
	a, err := New(secret, us)
	require.NoError(t, err)
	u, _ := us.Lookup("alice")

	claims := &Claims{Username: "alice", LastUpdated: u.Stamp()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New("short", testUsers(t, ""))
	assert.Error(t, err)
}

func TestDecodeUsers(t *testing.T) {
	us, err := DecodeUsers(strings.NewReader(`
- username: alice
  password: $2a$10$abcdefghijklmnopqrstuv
  lastUpdated: "2025-01-01T00:00:00Z"
  validFor: 12h
- username: bob
  password: $2a$10$abcdefghijklmnopqrstuv
  lastUpdated: "2025-01-01T00:00:00Z"
`))
	require.NoError(t, err)
	assert.Equal(t, 2, us.Len())

	a, _ := us.Lookup("alice")
	assert.Equal(t, 12*time.Hour, a.Validity())
	b, _ := us.Lookup("bob")
	assert.Equal(t, 30*24*time.Hour, b.Validity())
}

func TestDecodeUsersRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "- username: a\n  password: x\n  role: admin\n",
		"duplicate":     "- {username: a, password: x}\n- {username: a, password: y}\n",
		"no password":   "- {username: a}\n",
		"bad validity":  "- {username: a, password: x, validFor: soon}\n",
		"two documents": "- {username: a, password: x}\n---\n- {username: b, password: y}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeUsers(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
