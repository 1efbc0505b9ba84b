// Package secret is the secure credential store: values are sealed with
// XChaCha20-Poly1305 before they reach the underlying key/value storage.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/storage"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotFound is returned by Load for a key that was never saved.
var ErrNotFound = errors.New("secret not found")

const (
	saltKey  = "secret_salt"
	saltSize = 16
)

// Store seals values before writing them to a storage backend. The storage
// key is bound to the ciphertext, so a value copied under another key fails
// to open.
type Store struct {
	backend storage.Store
	aead    cipher.AEAD
}

// New creates a store using a 32-byte key.
func New(backend storage.Store, key []byte) (*Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	return &Store{backend: backend, aead: aead}, nil
}

// Open builds a store keyed from passphrase when one is given, otherwise from
// the random key file at keyPath (created on first use).
func Open(backend storage.Store, passphrase, keyPath string) (*Store, error) {
	if passphrase != "" {
		salt, err := loadOrCreateSalt(backend)
		if err != nil {
			return nil, err
		}
		return New(backend, KeyFromPassphrase(passphrase, salt))
	}
	key, err := LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return New(backend, key)
}

// KeyFromPassphrase derives a key with Argon2id.
func KeyFromPassphrase(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// LoadOrCreateKey reads a key file, writing a fresh random key with 0600
// permissions when it does not exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, chacha20poly1305.KeySize, len(data))
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	logger.Info("created secret key file", "path", path)
	return key, nil
}

func loadOrCreateSalt(backend storage.Store) ([]byte, error) {
	salt, err := backend.Get(saltKey)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := backend.Put(saltKey, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Save seals data under key.
func (s *Store) Save(key string, data []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(data)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, data, []byte(key))
	if err := s.backend.Put(key, sealed); err != nil {
		return fmt.Errorf("save secret %s: %w", key, err)
	}
	return nil
}

// Load returns the plaintext saved under key.
func (s *Store) Load(key string) ([]byte, error) {
	sealed, err := s.backend.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("secret %s: ciphertext too short", key)
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", key, err)
	}
	return plain, nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(key string) error {
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func tokenKey(service string) string {
	return "token_" + service
}

// SaveToken stores the bearer token for service.
func (s *Store) SaveToken(service, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	return s.Save(tokenKey(service), []byte(token))
}

// Token returns the bearer token for service.
func (s *Store) Token(service string) (string, error) {
	data, err := s.Load(tokenKey(service))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteToken removes the token for service.
func (s *Store) DeleteToken(service string) error {
	return s.Delete(tokenKey(service))
}
