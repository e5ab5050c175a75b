package token

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken = errors.New("no token stored")
	ErrExpired = errors.New("token expired")
)

// Source hands out the bearer token for REST calls and the channel handshake.
type Source interface {
	Token() (string, error)
}

// Static is a fixed token, mostly useful in tests.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileStore keeps the token in a single file readable only by the user.
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Save(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(strings.TrimSpace(tok)), 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

func (s *FileStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// Token returns the stored token unless its exp claim has passed. Tokens the
// client cannot decode are passed through; the server is the authority.
func (s *FileStore) Token() (string, error) {
	tok, err := s.Load()
	if err != nil {
		return "", err
	}
	claims, err := Inspect(tok)
	if err == nil && !claims.ExpiresAt.IsZero() && !s.now().Before(claims.ExpiresAt) {
		return "", ErrExpired
	}
	return tok, nil
}

type Claims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Inspect decodes the claims of tok without verifying its signature; the
// signing key never leaves the server.
func Inspect(tok string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, mc); err != nil {
		return Claims{}, fmt.Errorf("decoding token: %w", err)
	}

	var c Claims
	c.Subject, _ = mc.GetSubject()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.Email, _ = mc["email"].(string)
	c.Role, _ = mc["role"].(string)
	return c, nil
}
