package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/tools"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	DefaultValidFor = "30d"
	PasswordCost    = 10
)

// User is one entry of the users file. Password is a bcrypt hash.
// Changing LastUpdated invalidates every token issued before.
type User struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	LastUpdated string `yaml:"lastUpdated"`
	ValidFor    string `yaml:"validFor,omitempty"`

	validity time.Duration
}

// Stamp is the token binding derived from LastUpdated.
func (u *User) Stamp() string {
	sum := sha256.Sum256([]byte(u.LastUpdated))
	return hex.EncodeToString(sum[:16])
}

func (u *User) Validity() time.Duration { return u.validity }

type Users struct {
	byName map[string]*User
}

// NewUsers indexes users, defaulting and validating each validity period.
func NewUsers(users []User) (*Users, error) {
	out := &Users{byName: make(map[string]*User, len(users))}
	for i := range users {
		u := users[i]
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("user %d: username and password are required", i)
		}
		if _, dup := out.byName[u.Username]; dup {
			return nil, fmt.Errorf("user %q listed twice", u.Username)
		}
		if u.ValidFor == "" {
			u.ValidFor = DefaultValidFor
		}
		d, err := tools.ParseValidity(u.ValidFor)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Username, err)
		}
		u.validity = d
		out.byName[u.Username] = &u
	}
	return out, nil
}

func (us *Users) Lookup(username string) (*User, bool) {
	u, ok := us.byName[username]
	return u, ok
}

func (us *Users) Len() int { return len(us.byName) }

// LoadUsers reads a YAML list of users.
func LoadUsers(path string) (*Users, error) {
	f, err := os.Open(path)
	if err != nil {
		logging.L.Error("failed to open users file", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer f.Close()

	us, err := DecodeUsers(f)
	if err != nil {
		logging.L.Error("failed to decode users file", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	logging.L.Info("loaded users", zap.String("path", path), zap.Int("count", us.Len()))
	return us, nil
}

func DecodeUsers(r io.Reader) (*Users, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var users []User
	if err := dec.Decode(&users); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := tools.EnsureEOF(dec); err != nil {
		return nil, err
	}
	return NewUsers(users)
}

// HashPassword returns the bcrypt hash stored in the users file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// NewUser builds a users file entry stamped with now.
func NewUser(username, password string, now time.Time) (User, error) {
	h, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return User{
		Username:    username,
		Password:    h,
		LastUpdated: now.UTC().Format(time.RFC3339),
	}, nil
}
