// Package auth keeps the bearer token issued by the ledger API and
// inspects its expiry.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMissing is returned when a login response carries no token.
	ErrTokenMissing = errors.New("token missing from login response")
	// ErrNoCredentials is returned by Get when nothing is stored.
	ErrNoCredentials = errors.New("no stored token")
)

var bearerPrefix = regexp.MustCompile(`(?i)^Bearer\s+`)

// CredentialStore holds the current bearer token.
type CredentialStore interface {
	Get() (string, error)
	Set(token string) error
	Clear() error
}

// NormalizeToken strips a case-insensitive "Bearer " prefix and surrounding
// whitespace. An empty result is ErrTokenMissing.
func NormalizeToken(raw string) (string, error) {
	t := bearerPrefix.ReplaceAllString(strings.TrimLeftFunc(raw, unicode.IsSpace), "")
	t = strings.TrimSpace(t)
	if t == "" {
		return "", ErrTokenMissing
	}
	return t, nil
}

// TokenFromLoginResponse accepts either {"token": "..."} or a bare JSON
// string (or plain text) body.
func TokenFromLoginResponse(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ErrTokenMissing
	}
	switch trimmed[0] {
	case '{':
		var obj struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return "", fmt.Errorf("decode login response: %w", err)
		}
		return NormalizeToken(obj.Token)
	case '"':
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return "", fmt.Errorf("decode login response: %w", err)
		}
		return NormalizeToken(s)
	}
	return NormalizeToken(trimmed)
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens or tokens without exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether token expires within skew of now. Tokens whose
// expiry cannot be read are never considered expired.
func Expired(token string, now time.Time, skew time.Duration) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoCredentials
	}
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	t, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

// FileStore persists the token to a file readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", ErrNoCredentials
	}
	return t, nil
}

func (s *FileStore) Set(token string) error {
	t, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(t+"\n"), 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
